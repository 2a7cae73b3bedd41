// ABOUTME: DriftEngine measures how a project's topic mix changes over time
// ABOUTME: Windowed topic distributions are compared by cosine distance with per-topic deltas
package core

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/vecmath"
)

// DriftConfig controls windowing
type DriftConfig struct {
	Window           time.Duration `json:"window"`
	Lookback         time.Duration `json:"lookback"`
	MinConversations int           `json:"min_conversations"`
}

// DriftConfigFrom extracts drift settings
func DriftConfigFrom(cfg *config.Config) DriftConfig {
	return DriftConfig{
		Window:           cfg.DriftWindow,
		Lookback:         cfg.DriftLookback,
		MinConversations: cfg.DriftMinConversations,
	}
}

// DriftResult summarizes one drift run
type DriftResult struct {
	RunID         string                      `json:"run_id"`
	ProjectID     string                      `json:"project_id"`
	TopicRunID    string                      `json:"topic_run_id"`
	Conversations int                         `json:"conversations"`
	Unwindowed    int                         `json:"unwindowed"`
	Windows       int                         `json:"windows"`
	Retained      int                         `json:"retained"`
	Skipped       int                         `json:"skipped"`
	Metrics       []models.ProjectDriftMetric `json:"metrics"`
}

// DriftEngine computes ProjectDriftMetrics
type DriftEngine struct {
	store   *sqlite.Storage
	tracker *runs.Tracker
	cfg     DriftConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewDriftEngine creates an engine. logger and m may be nil.
func NewDriftEngine(store *sqlite.Storage, tracker *runs.Tracker, cfg DriftConfig, logger *logging.Logger, m *metrics.Metrics) *DriftEngine {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * 24 * time.Hour
	}
	if cfg.Lookback < cfg.Window {
		cfg.Lookback = cfg.Window
	}
	return &DriftEngine{store: store, tracker: tracker, cfg: cfg,
		logger: logger.With("component", "drift"), metrics: m}
}

// topic is one suggestion of the reference clustering run
type topic struct {
	id    string
	label string
}

type window struct {
	start, end time.Time
	convs      int
	dist       []float64
}

// Compute buckets the project's current conversations into windows ending
// at asOf and records drift between consecutive windows that have enough
// conversations. The first retained window has nothing to compare against.
func (e *DriftEngine) Compute(ctx context.Context, projectID string, asOf time.Time) (*DriftResult, error) {
	asOf = asOf.UTC()
	run, err := e.tracker.Start(ctx, runs.Spec{
		Type:  models.RunDrift,
		Scope: projectID,
		Config: map[string]interface{}{
			"window":            e.cfg.Window.String(),
			"lookback":          e.cfg.Lookback.String(),
			"min_conversations": e.cfg.MinConversations,
			"as_of":             asOf.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	result := &DriftResult{RunID: run.ID, ProjectID: projectID}

	if err := e.compute(ctx, run, projectID, asOf, result); err != nil {
		_ = run.Fail(ctx, err)
		return result, err
	}
	if err := run.Complete(ctx, map[string]interface{}{
		"topic_run_id": result.TopicRunID,
		"windows":      result.Windows,
		"retained":     result.Retained,
		"skipped":      result.Skipped,
		"metrics":      len(result.Metrics),
	}); err != nil {
		return result, err
	}
	e.metrics.DriftWindows(result.Retained)
	e.logger.Info("drift complete", "run_id", run.ID, "project_id", projectID, "metrics", len(result.Metrics))
	return result, nil
}

func (e *DriftEngine) compute(ctx context.Context, run *runs.Run, projectID string, asOf time.Time, result *DriftResult) error {
	project, err := e.store.Projects.Get(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to get project: %w", err)
	}
	if project == nil {
		return fmt.Errorf("%w: project %s", models.ErrNotFound, projectID)
	}

	topics, segmentTopic, err := e.referenceTopics(ctx, result)
	if err != nil {
		return err
	}

	assignments, err := e.store.Projects.ListAssignments(ctx, projectID, true)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}

	windows := e.windows(asOf)
	for i := range windows {
		windows[i].dist = make([]float64, len(topics))
	}
	result.Windows = len(windows)
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Conversations++
		conv, err := e.store.Conversations.Get(ctx, a.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to get conversation: %w", err)
		}
		if conv == nil {
			continue
		}
		at := conv.CreatedAt
		if conv.FirstMessageAt != nil {
			at = *conv.FirstMessageAt
		}
		w := findWindow(windows, at)
		if w == nil {
			result.Unwindowed++
			continue
		}
		scores, err := e.topicScores(ctx, conv.ID, topics, segmentTopic)
		if err != nil {
			return err
		}
		w.convs++
		for i, s := range scores {
			w.dist[i] += s
		}
	}

	var prev *window
	createdAt := time.Now().UTC()
	for i := range windows {
		w := &windows[i]
		if w.convs < e.cfg.MinConversations || !normalizeL1(w.dist) {
			result.Skipped++
			continue
		}
		result.Retained++
		if prev != nil {
			result.Metrics = append(result.Metrics, models.ProjectDriftMetric{
				ID:                uuid.New().String(),
				RunID:             run.ID,
				ProjectID:         projectID,
				WindowStart:       w.start,
				WindowEnd:         w.end,
				ConversationCount: w.convs,
				DriftScore:        vecmath.CosineDistance(prev.dist, w.dist),
				Deltas:            topicDeltas(topics, prev.dist, w.dist),
				CreatedAt:         createdAt,
			})
		}
		prev = w
	}

	return e.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		for i := range result.Metrics {
			if err := tx.Drift.Insert(ctx, &result.Metrics[i]); err != nil {
				return fmt.Errorf("failed to store drift metric: %w", err)
			}
		}
		return nil
	})
}

// referenceTopics loads the suggestions of the latest completed clustering
// run and maps each member segment to its topic position
func (e *DriftEngine) referenceTopics(ctx context.Context, result *DriftResult) ([]topic, map[string]int, error) {
	ref, err := e.store.Runs.LatestCompleted(ctx, models.RunClustering)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find clustering run: %w", err)
	}
	if ref == nil {
		return nil, nil, models.ErrNoClusteringRun
	}
	result.TopicRunID = ref.ID

	suggestions, err := e.store.Suggestions.ListByRun(ctx, ref.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list topics: %w", err)
	}
	topics := make([]topic, len(suggestions))
	segmentTopic := map[string]int{}
	for i, sg := range suggestions {
		topics[i] = topic{id: sg.ID, label: sg.Name}
		for _, segID := range sg.SegmentIDs {
			segmentTopic[segID] = i
		}
	}
	return topics, segmentTopic, nil
}

// topicScores returns the fraction of a conversation's segments in each topic
func (e *DriftEngine) topicScores(ctx context.Context, convID string, topics []topic, segmentTopic map[string]int) ([]float64, error) {
	segments, err := e.store.Segments.ListByConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	scores := make([]float64, len(topics))
	if len(segments) == 0 {
		return scores, nil
	}
	for _, seg := range segments {
		if t, ok := segmentTopic[seg.ID]; ok {
			scores[t] += 1 / float64(len(segments))
		}
	}
	return scores, nil
}

// windows lays fixed windows back from asOf across the lookback, oldest first.
// Only whole windows fit; a lookback remainder shorter than one window is dropped.
func (e *DriftEngine) windows(asOf time.Time) []window {
	start := asOf.Add(-e.cfg.Lookback)
	var out []window
	for end := asOf; !end.Add(-e.cfg.Window).Before(start); end = end.Add(-e.cfg.Window) {
		out = append(out, window{start: end.Add(-e.cfg.Window), end: end})
	}
	slices.Reverse(out)
	return out
}

func findWindow(windows []window, at time.Time) *window {
	at = at.UTC()
	for i := range windows {
		if !at.Before(windows[i].start) && at.Before(windows[i].end) {
			return &windows[i]
		}
	}
	return nil
}

// normalizeL1 scales v to sum to 1, reporting false for an all-zero vector
func normalizeL1(v []float64) bool {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return false
	}
	for i := range v {
		v[i] /= sum
	}
	return true
}

// topicDeltas lists topics present in either window, largest change first
func topicDeltas(topics []topic, prev, cur []float64) []models.TopicDelta {
	var deltas []models.TopicDelta
	for i, t := range topics {
		if prev[i] == 0 && cur[i] == 0 {
			continue
		}
		deltas = append(deltas, models.TopicDelta{
			Topic:    t.id,
			Label:    t.label,
			Previous: prev[i],
			Current:  cur[i],
			Change:   cur[i] - prev[i],
		})
	}
	slices.SortStableFunc(deltas, func(a, b models.TopicDelta) int {
		da, db := math.Abs(a.Change), math.Abs(b.Change)
		switch {
		case da > db:
			return -1
		case da < db:
			return 1
		}
		return strings.Compare(a.Topic, b.Topic)
	})
	return deltas
}
