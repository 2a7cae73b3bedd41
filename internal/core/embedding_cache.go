// ABOUTME: EmbeddingCache serves segment vectors keyed by content hash
// ABOUTME: Stale entries are replaced on lookup; bulk generation commits in checkpoints
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
)

// EmbeddingCacheOptions tunes an EmbeddingCache
type EmbeddingCacheOptions struct {
	MaxEmbedTokens int
	CheckpointSize int
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
}

// EmbeddingCache is the explicit cache handle for segment vectors. Validity
// is decided only by stored content hashes.
type EmbeddingCache struct {
	store      *sqlite.Storage
	provider   llm.Provider
	model      string
	maxTokens  int
	checkpoint int
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// EmbedStats summarizes a bulk generation pass
type EmbedStats struct {
	RunID       string `json:"run_id,omitempty"`
	Invalidated int64  `json:"invalidated"`
	Missing     int    `json:"missing"`
	Generated   int    `json:"generated"`
	Failed      int    `json:"failed"`
	Checkpoints int    `json:"checkpoints"`
}

// NewEmbeddingCache creates a cache over provider's embedding model
func NewEmbeddingCache(store *sqlite.Storage, provider llm.Provider, opts EmbeddingCacheOptions) *EmbeddingCache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.CheckpointSize <= 0 {
		opts.CheckpointSize = 50
	}
	return &EmbeddingCache{
		store:      store,
		provider:   provider,
		model:      provider.EmbeddingModel(),
		maxTokens:  opts.MaxEmbedTokens,
		checkpoint: opts.CheckpointSize,
		logger:     logger.With("component", "embedding_cache"),
		metrics:    opts.Metrics,
	}
}

// Model returns the model name vectors are cached under
func (c *EmbeddingCache) Model() string {
	return c.model
}

// ErrNoRun is returned when a cache write is attempted outside an open run
var ErrNoRun = errors.New("embedding generation needs an open run")

// SegmentVector is the result of a single-segment lookup
type SegmentVector struct {
	SegmentID  string    `json:"segment_id"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Cached     bool      `json:"cached"`
	RunID      string    `json:"run_id,omitempty"`
	Vector     []float64 `json:"-"`
}

// cached returns seg's valid cached vector, dropping a stale entry on the way
func (c *EmbeddingCache) cached(ctx context.Context, segmentID string) (*models.ConversationSegment, []float64, error) {
	seg, err := c.store.Segments.Get(ctx, segmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get segment: %w", err)
	}
	if seg == nil {
		return nil, nil, fmt.Errorf("%w: segment %s", models.ErrNotFound, segmentID)
	}

	entry, err := c.store.Embeddings.Get(ctx, seg.ID, c.model)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if entry.IsValidFor(seg.ContentHash) {
		c.metrics.Embedding(metrics.EmbeddingCacheHit)
		return seg, entry.Vector, nil
	}
	if entry != nil {
		if _, err := c.store.Embeddings.DeleteIfStale(ctx, seg.ID, c.model, seg.ContentHash); err != nil {
			return nil, nil, fmt.Errorf("failed to drop stale entry: %w", err)
		}
		c.logger.Debug("stale embedding dropped", "segment_id", seg.ID)
	}
	return seg, nil, nil
}

// GetOrGenerate returns the segment's vector, generating and caching it under
// run when missing or stale. A nil vector with a nil error means the
// provider could not produce one this time.
func (c *EmbeddingCache) GetOrGenerate(ctx context.Context, run *runs.Run, segmentID string) ([]float64, error) {
	if run == nil {
		return nil, ErrNoRun
	}
	seg, vec, err := c.cached(ctx, segmentID)
	if err != nil || vec != nil {
		return vec, err
	}
	return c.cacheNew(ctx, seg, run.ID)
}

// cacheNew generates seg's vector under runID and stores it
func (c *EmbeddingCache) cacheNew(ctx context.Context, seg *models.ConversationSegment, runID string) ([]float64, error) {
	entry, err := c.generate(ctx, seg, runID)
	if err != nil || entry == nil {
		return nil, err
	}
	if _, err := c.store.Embeddings.InsertIfAbsent(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to cache embedding: %w", err)
	}
	return entry.Vector, nil
}

// EmbedSegment serves one segment's vector. A cache hit returns directly;
// a miss opens an embedding run scoped to the segment so the new entry is
// attributed to it.
func (c *EmbeddingCache) EmbedSegment(ctx context.Context, tracker *runs.Tracker, segmentID string) (*SegmentVector, error) {
	seg, vec, err := c.cached(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	result := &SegmentVector{SegmentID: segmentID, Model: c.model}
	if vec != nil {
		result.Cached = true
		result.Vector = vec
		result.Dimensions = len(vec)
		return result, nil
	}

	spec := c.runSpec()
	spec.Scope = "segment:" + seg.ID
	run, err := tracker.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	result.RunID = run.ID

	vec, err = c.cacheNew(ctx, seg, run.ID)
	if err == nil && vec == nil {
		err = fmt.Errorf("%w: segment %s could not be embedded", ErrAllUnitsFailed, seg.ID)
	}
	if err != nil {
		_ = run.Fail(ctx, err)
		return result, err
	}
	if err := run.Complete(ctx, map[string]interface{}{"generated": 1}); err != nil {
		return result, err
	}
	result.Vector = vec
	result.Dimensions = len(vec)
	return result, nil
}

func (c *EmbeddingCache) runSpec() runs.Spec {
	return runs.Spec{
		Type:  models.RunEmbedding,
		Model: c.model,
		Config: map[string]interface{}{
			"model":           c.model,
			"max_tokens":      c.maxTokens,
			"checkpoint_size": c.checkpoint,
		},
	}
}

// GenerateMissing fills every segment lacking a valid vector. Stale entries
// are dropped first. Results are committed every CheckpointSize entries, so
// cancellation loses at most one checkpoint. Every entry records run.
func (c *EmbeddingCache) GenerateMissing(ctx context.Context, run *runs.Run) (*EmbedStats, error) {
	if run == nil {
		return nil, ErrNoRun
	}
	stats := &EmbedStats{RunID: run.ID}
	runID := run.ID

	invalidated, err := c.InvalidateStale(ctx)
	if err != nil {
		return stats, err
	}
	stats.Invalidated = invalidated

	missing, err := c.store.Embeddings.ListMissing(ctx, c.model)
	if err != nil {
		return stats, fmt.Errorf("failed to list missing embeddings: %w", err)
	}
	stats.Missing = len(missing)

	pending := make([]*models.SegmentEmbedding, 0, c.checkpoint)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// the checkpoint is committed even when the pass is being cancelled
		wctx := context.WithoutCancel(ctx)
		err := c.store.WithTx(wctx, func(tx *sqlite.Storage) error {
			for _, e := range pending {
				if _, err := tx.Embeddings.InsertIfAbsent(wctx, e); err != nil {
					return fmt.Errorf("failed to cache embedding for %s: %w", e.SegmentID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.Generated += len(pending)
		stats.Checkpoints++
		pending = pending[:0]
		return nil
	}

	for _, seg := range missing {
		if err := ctx.Err(); err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, err
		}
		entry, err := c.generate(ctx, seg, runID)
		if err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, err
		}
		if entry == nil {
			stats.Failed++
			continue
		}
		pending = append(pending, entry)
		if len(pending) >= c.checkpoint {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// EmbedAll runs GenerateMissing under its own embedding run
func (c *EmbeddingCache) EmbedAll(ctx context.Context, tracker *runs.Tracker) (*EmbedStats, error) {
	run, err := tracker.Start(ctx, c.runSpec())
	if err != nil {
		return nil, err
	}

	stats, err := c.GenerateMissing(ctx, run)
	if err != nil {
		_ = run.Fail(ctx, err)
		return stats, err
	}
	if stats.Failed > 0 && stats.Generated == 0 {
		err := fmt.Errorf("%w: %d segments could not be embedded", ErrAllUnitsFailed, stats.Failed)
		_ = run.Fail(ctx, err)
		return stats, err
	}
	if err := run.Complete(ctx, map[string]interface{}{
		"invalidated": stats.Invalidated,
		"missing":     stats.Missing,
		"generated":   stats.Generated,
		"failed":      stats.Failed,
	}); err != nil {
		return stats, err
	}
	c.logger.Info("embedding pass complete", "run_id", run.ID, "generated", stats.Generated, "failed", stats.Failed)
	return stats, nil
}

// InvalidateStale removes entries whose source hash no longer matches their
// segment's content, covering segments rewritten out of band.
func (c *EmbeddingCache) InvalidateStale(ctx context.Context) (int64, error) {
	n, err := c.store.Embeddings.DeleteStale(ctx, c.model)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate stale embeddings: %w", err)
	}
	if n > 0 {
		c.logger.Info("stale embeddings invalidated", "count", n)
	}
	return n, nil
}

// generate asks the provider for seg's vector. Provider failures are logged
// and reported as a nil entry; only cancellation is returned as an error.
func (c *EmbeddingCache) generate(ctx context.Context, seg *models.ConversationSegment, runID string) (*models.SegmentEmbedding, error) {
	vec, err := c.provider.Embed(ctx, util.BoundText(seg.Content, c.maxTokens))
	if err != nil || len(vec) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.metrics.Embedding(metrics.EmbeddingProviderError)
		c.logger.Warn("embedding failed, segment skipped", "segment_id", seg.ID, "error", err)
		return nil, nil
	}
	c.metrics.Embedding(metrics.EmbeddingGenerated)
	return &models.SegmentEmbedding{
		ID:         uuid.New().String(),
		SegmentID:  seg.ID,
		Model:      c.model,
		Dimensions: len(vec),
		Vector:     vec,
		SourceHash: seg.ContentHash,
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
