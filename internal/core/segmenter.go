// ABOUTME: Segmenter splits conversations into topic-coherent runs of messages
// ABOUTME: Sliding-window embeddings mark a boundary where consecutive windows stop resembling each other
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
	"github.com/harper/chatlake/internal/vecmath"
)

// ErrAllUnitsFailed is returned when a pass attempted work and every unit
// was skipped by provider failures. The pass's run is marked Failed.
var ErrAllUnitsFailed = errors.New("every attempted unit failed")

// Segmentation outcomes for one conversation
const (
	OutcomeSegmented        = "segmented"
	OutcomeAlreadySegmented = "already_segmented"
	OutcomeTooShort         = "too_short"
	OutcomeEmbedFailed      = "embed_failed"
)

// SegmenterConfig holds the boundary detection parameters
type SegmenterConfig struct {
	Window         int      `json:"window"`
	Threshold      float64  `json:"threshold"`
	MinSegment     int      `json:"min_segment"`
	MaxSegment     int      `json:"max_segment"`
	MinSubstantive int      `json:"min_substantive"`
	MinChars       int      `json:"min_chars"`
	ExcludedRoles  []string `json:"excluded_roles"`
	MaxEmbedTokens int      `json:"max_embed_tokens"`
}

// DefaultExcludedRoles are dropped before windowing
var DefaultExcludedRoles = []string{models.RoleSystem, models.RoleTool, "profile", "context"}

// SegmenterConfigFrom extracts segmentation settings
func SegmenterConfigFrom(cfg *config.Config) SegmenterConfig {
	return SegmenterConfig{
		Window:         cfg.SegmentWindow,
		Threshold:      cfg.SegmentThreshold,
		MinSegment:     cfg.MinSegmentMessages,
		MaxSegment:     cfg.MaxSegmentMessages,
		MinSubstantive: cfg.MinSubstantiveMessages,
		MinChars:       cfg.MinConversationChars,
		ExcludedRoles:  DefaultExcludedRoles,
		MaxEmbedTokens: cfg.MaxEmbedTokens,
	}
}

// Segmenter writes ConversationSegments
type Segmenter struct {
	store    *sqlite.Storage
	provider llm.Provider
	tracker  *runs.Tracker
	cfg      SegmenterConfig
	excluded map[string]bool
	logger   *logging.Logger
}

// SegmentResult describes what happened to one conversation
type SegmentResult struct {
	ConversationID string
	Outcome        string
	Segments       int
}

// SegmentStats summarizes a SegmentAll pass
type SegmentStats struct {
	RunID            string `json:"run_id"`
	Conversations    int    `json:"conversations"`
	Segmented        int    `json:"segmented"`
	AlreadySegmented int    `json:"already_segmented"`
	TooShort         int    `json:"too_short"`
	EmbedFailed      int    `json:"embed_failed"`
	Segments         int    `json:"segments"`
}

// NewSegmenter creates a Segmenter. logger may be nil.
func NewSegmenter(store *sqlite.Storage, provider llm.Provider, tracker *runs.Tracker, cfg SegmenterConfig, logger *logging.Logger) *Segmenter {
	if logger == nil {
		logger = logging.Nop()
	}
	excluded := make(map[string]bool, len(cfg.ExcludedRoles))
	for _, r := range cfg.ExcludedRoles {
		excluded[models.NormalizeRole(r)] = true
	}
	return &Segmenter{
		store:    store,
		provider: provider,
		tracker:  tracker,
		cfg:      cfg,
		excluded: excluded,
		logger:   logger.With("component", "segmenter"),
	}
}

// SegmentConversation segments one conversation under run. A conversation
// that already has segments is left untouched.
func (s *Segmenter) SegmentConversation(ctx context.Context, conversationID string, run *runs.Run) (*SegmentResult, error) {
	result := &SegmentResult{ConversationID: conversationID}

	existing, err := s.store.Segments.CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count segments: %w", err)
	}
	if existing > 0 {
		result.Outcome = OutcomeAlreadySegmented
		return result, nil
	}

	all, err := s.store.Messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	msgs := s.substantive(all)
	if !s.longEnough(msgs) {
		result.Outcome = OutcomeTooShort
		return result, nil
	}

	sims, err := s.windowSimilarities(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("window embedding failed, skipping conversation", "conversation_id", conversationID, "error", err)
		result.Outcome = OutcomeEmbedFailed
		return result, nil
	}

	bounds := Boundaries(sims, len(msgs), s.cfg)
	segments := make([]*models.ConversationSegment, 0, len(bounds))
	createdAt := time.Now().UTC()
	for i, start := range bounds {
		end := len(msgs)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		part := msgs[start:end]
		content := renderMessages(part)
		segments = append(segments, &models.ConversationSegment{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			SegmentIndex:   i,
			StartMessage:   part[0].SequenceIndex,
			EndMessage:     part[len(part)-1].SequenceIndex,
			MessageCount:   len(part),
			Content:        content,
			ContentHash:    util.HashString(content),
			RunID:          run.ID,
			CreatedAt:      createdAt,
		})
	}

	err = s.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		for _, seg := range segments {
			inserted, err := tx.Segments.InsertIfAbsent(ctx, seg)
			if err != nil {
				return fmt.Errorf("failed to insert segment %d: %w", seg.SegmentIndex, err)
			}
			if inserted {
				result.Segments++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = OutcomeSegmented
	return result, nil
}

// SegmentAll segments every conversation that has no segments yet, under one run.
func (s *Segmenter) SegmentAll(ctx context.Context) (*SegmentStats, error) {
	run, err := s.tracker.Start(ctx, runs.Spec{
		Type:   models.RunSegmentation,
		Model:  s.provider.EmbeddingModel(),
		Config: s.cfg,
	})
	if err != nil {
		return nil, err
	}
	stats := &SegmentStats{RunID: run.ID}

	ids, err := s.store.Conversations.ListUnsegmented(ctx)
	if err != nil {
		_ = run.Fail(ctx, err)
		return stats, fmt.Errorf("failed to list unsegmented conversations: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			_ = run.Fail(ctx, err)
			return stats, err
		}
		res, err := s.SegmentConversation(ctx, id, run)
		if err != nil {
			_ = run.Fail(ctx, err)
			return stats, err
		}
		stats.Conversations++
		switch res.Outcome {
		case OutcomeSegmented:
			stats.Segmented++
			stats.Segments += res.Segments
		case OutcomeAlreadySegmented:
			stats.AlreadySegmented++
		case OutcomeTooShort:
			stats.TooShort++
		case OutcomeEmbedFailed:
			stats.EmbedFailed++
		}
	}

	if stats.EmbedFailed > 0 && stats.Segmented == 0 {
		err := fmt.Errorf("%w: %d conversations failed window embedding", ErrAllUnitsFailed, stats.EmbedFailed)
		_ = run.Fail(ctx, err)
		return stats, err
	}

	if err := run.Complete(ctx, map[string]interface{}{
		"conversations": stats.Conversations,
		"segmented":     stats.Segmented,
		"too_short":     stats.TooShort,
		"embed_failed":  stats.EmbedFailed,
		"segments":      stats.Segments,
	}); err != nil {
		return stats, err
	}
	s.logger.Info("segmentation complete", "run_id", run.ID, "segmented", stats.Segmented, "segments", stats.Segments)
	return stats, nil
}

// Reset deletes every segment so the next pass regenerates them.
// Cached embeddings go with them.
func (s *Segmenter) Reset(ctx context.Context) (int64, error) {
	n, err := s.store.Segments.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset segments: %w", err)
	}
	s.logger.Info("segments reset", "deleted", n)
	return n, nil
}

func (s *Segmenter) substantive(all []models.Message) []models.Message {
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if s.excluded[models.NormalizeRole(m.Role)] || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Segmenter) longEnough(msgs []models.Message) bool {
	if len(msgs) < s.cfg.MinSubstantive {
		return false
	}
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(strings.TrimSpace(m.Content))
	}
	return chars >= s.cfg.MinChars
}

// windowSimilarities embeds windows [i, i+W) and returns sims where sims[i]
// is the cosine between windows i-1 and i (sims[0] is 1).
func (s *Segmenter) windowSimilarities(ctx context.Context, msgs []models.Message) ([]float64, error) {
	count := len(msgs) - s.cfg.Window + 1
	if count < 2 {
		return []float64{1}, nil
	}

	sims := make([]float64, count)
	sims[0] = 1
	var prev []float64
	for i := 0; i < count; i++ {
		text := util.BoundText(renderMessages(msgs[i:i+s.cfg.Window]), s.cfg.MaxEmbedTokens)
		vec, err := s.provider.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("window %d: %w", i, llm.ErrEmptyResponse)
		}
		if i > 0 {
			sims[i] = vecmath.Cosine(prev, vec)
		}
		prev = vec
	}
	return sims, nil
}

// Boundaries returns the segment start indices for n messages. sims[i] is
// the similarity entering window i. A boundary needs a similarity drop and
// at least MinSegment messages on both sides; MaxSegment forces one. No
// segment is ever shorter than MinSegment unless the whole conversation is.
func Boundaries(sims []float64, n int, cfg SegmenterConfig) []int {
	bounds := []int{0}
	if n == 0 {
		return bounds
	}
	last := 0
	for i := 1; i < n; i++ {
		if i-last >= cfg.MaxSegment {
			cut := i
			if n-cut < cfg.MinSegment {
				cut = n - cfg.MinSegment
			}
			if cut-last >= cfg.MinSegment {
				bounds = append(bounds, cut)
				last = cut
			}
			continue
		}
		if i < len(sims) && sims[i] < cfg.Threshold && i-last >= cfg.MinSegment && n-i >= cfg.MinSegment {
			bounds = append(bounds, i)
			last = i
		}
	}
	if len(bounds) > 1 && n-bounds[len(bounds)-1] < cfg.MinSegment {
		bounds = bounds[:len(bounds)-1]
	}
	return bounds
}
