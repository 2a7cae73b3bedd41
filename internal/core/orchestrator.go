// ABOUTME: Orchestrator runs the clustering pipeline end to end
// ABOUTME: Segment, embed, load vectors, project and cluster, then persist named suggestions
package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/cluster"
	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
	"github.com/harper/chatlake/internal/vecmath"
)

const (
	// nameSampleSize is how many central segments feed cluster naming
	nameSampleSize     = 5
	namingSystemPrompt = "You name groups of related chat conversations. " +
		"Reply with a short project title of at most six words, nothing else."
)

// ClusterConfig is the reproducibility key of a clustering run
type ClusterConfig struct {
	ProjectionDims      int     `json:"projection_dims"`
	ProjectionNeighbors int     `json:"projection_neighbors"`
	MinClusterSize      int     `json:"min_cluster_size"`
	MinSamples          int     `json:"min_samples"`
	Seed                uint64  `json:"seed"`
	Model               string  `json:"model"`
	AutoAcceptThreshold float64 `json:"auto_accept_threshold"`
	LLMNaming           bool    `json:"llm_naming"`
}

// ClusterConfigFrom extracts clustering settings for model
func ClusterConfigFrom(cfg *config.Config, model string) ClusterConfig {
	return ClusterConfig{
		ProjectionDims:      cfg.ProjectionDims,
		ProjectionNeighbors: cfg.ProjectionNeighbors,
		MinClusterSize:      cfg.MinClusterSize,
		MinSamples:          cfg.MinSamples,
		Seed:                cfg.ClusterSeed,
		Model:               model,
		AutoAcceptThreshold: cfg.AutoAcceptThreshold,
		LLMNaming:           cfg.LLMNaming,
	}
}

// ClusterResult summarizes one orchestration
type ClusterResult struct {
	RunID        string                      `json:"run_id"`
	Segmentation *SegmentStats               `json:"segmentation,omitempty"`
	Embedding    *EmbedStats                 `json:"embedding,omitempty"`
	Points       int                         `json:"points"`
	Clusters     int                         `json:"clusters"`
	Noise        int                         `json:"noise"`
	AutoAccepted int                         `json:"auto_accepted"`
	Suggestions  []*models.ProjectSuggestion `json:"suggestions"`
	// ProviderDown is set when segmentation and embedding were skipped
	ProviderDown bool `json:"provider_down,omitempty"`
}

// Orchestrator drives the five clustering phases
type Orchestrator struct {
	store     *sqlite.Storage
	segmenter *Segmenter
	cache     *EmbeddingCache
	provider  llm.Provider
	tracker   *runs.Tracker
	cfg       ClusterConfig
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator wires the phases together. logger and m may be nil.
func NewOrchestrator(store *sqlite.Storage, segmenter *Segmenter, cache *EmbeddingCache, provider llm.Provider,
	tracker *runs.Tracker, cfg ClusterConfig, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Model == "" {
		cfg.Model = cache.Model()
	}
	return &Orchestrator{
		store:     store,
		segmenter: segmenter,
		cache:     cache,
		provider:  provider,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger.With("component", "orchestrator"),
		metrics:   m,
	}
}

// Run executes every phase. Segmentation and embedding are idempotent and
// only do outstanding work; the clustering itself is one InferenceRun.
// When the provider is unreachable both provider phases are skipped and
// only the vectors already cached are clustered.
func (o *Orchestrator) Run(ctx context.Context) (*ClusterResult, error) {
	result := &ClusterResult{}

	if !o.provider.IsAvailable(ctx) {
		o.logger.Warn("provider unavailable, skipping segmentation and embedding", "model", o.cache.Model())
		result.ProviderDown = true
		return o.Cluster(ctx, result)
	}

	segStats, err := o.segmenter.SegmentAll(ctx)
	result.Segmentation = segStats
	if err != nil && !errors.Is(err, ErrAllUnitsFailed) {
		return result, fmt.Errorf("segmentation phase: %w", err)
	}
	if err != nil {
		o.logger.Warn("segmentation phase made no progress", "error", err)
	}

	embStats, err := o.cache.EmbedAll(ctx, o.tracker)
	result.Embedding = embStats
	if err != nil && !errors.Is(err, ErrAllUnitsFailed) {
		return result, fmt.Errorf("embedding phase: %w", err)
	}
	if err != nil {
		o.logger.Warn("embedding phase made no progress", "error", err)
	}

	return o.Cluster(ctx, result)
}

// Cluster runs phases three to five over the vectors already cached.
// result may be nil.
func (o *Orchestrator) Cluster(ctx context.Context, result *ClusterResult) (*ClusterResult, error) {
	if result == nil {
		result = &ClusterResult{}
	}
	run, err := o.tracker.Start(ctx, runs.Spec{
		Type:   models.RunClustering,
		Model:  o.cfg.Model,
		Config: o.cfg,
	})
	if err != nil {
		return result, err
	}
	result.RunID = run.ID

	suggestions, err := o.cluster(ctx, run, result)
	if err != nil {
		_ = run.Fail(ctx, err)
		return result, err
	}
	result.Suggestions = suggestions

	if err := run.Complete(ctx, map[string]interface{}{
		"points":        result.Points,
		"clusters":      result.Clusters,
		"noise":         result.Noise,
		"suggestions":   len(suggestions),
		"auto_accepted": result.AutoAccepted,
	}); err != nil {
		return result, err
	}
	o.metrics.SuggestionsCreated(len(suggestions))
	o.logger.Info("clustering complete", "run_id", run.ID, "points", result.Points,
		"clusters", result.Clusters, "noise", result.Noise)
	return result, nil
}

func (o *Orchestrator) cluster(ctx context.Context, run *runs.Run, result *ClusterResult) ([]*models.ProjectSuggestion, error) {
	vectors, err := o.store.Embeddings.ListValid(ctx, o.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w for model %s", models.ErrNoEmbeddings, o.cfg.Model)
	}
	result.Points = len(vectors)

	raw := make([][]float64, len(vectors))
	for i, v := range vectors {
		raw[i] = v.Vector
	}
	projected, err := cluster.Project(ctx, raw, o.cfg.ProjectionDims, o.cfg.ProjectionNeighbors, o.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("projection failed: %w", err)
	}
	labels, err := cluster.Density(ctx, projected, o.cfg.MinClusterSize, o.cfg.MinSamples)
	if err != nil {
		return nil, fmt.Errorf("density clustering failed: %w", err)
	}

	groups := cluster.Members(labels)
	result.Clusters = len(groups)
	for _, l := range labels {
		if l == cluster.Noise {
			result.Noise++
		}
	}

	createdAt := time.Now().UTC()
	suggestions := make([]*models.ProjectSuggestion, 0, len(groups))
	for label, members := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sg, err := o.buildSuggestion(ctx, run.ID, label, members, vectors, createdAt)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}

	// all suggestions land together or not at all
	err = o.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		for _, sg := range suggestions {
			if err := tx.Suggestions.Create(ctx, sg); err != nil {
				return fmt.Errorf("failed to store suggestion %d: %w", sg.ClusterLabel, err)
			}
		}
		for _, sg := range suggestions {
			if o.cfg.AutoAcceptThreshold <= 0 || sg.Confidence <= o.cfg.AutoAcceptThreshold {
				continue
			}
			project, err := acceptSuggestion(ctx, tx, sg, createdAt)
			if err != nil {
				return fmt.Errorf("failed to auto-accept suggestion %d: %w", sg.ClusterLabel, err)
			}
			sg.Status = models.SuggestionAccepted
			sg.ResolvedProjectID = project.ID
			sg.ResolvedAt = &createdAt
			result.AutoAccepted++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (o *Orchestrator) buildSuggestion(ctx context.Context, runID string, label int, members []int,
	vectors []sqlite.SegmentVector, createdAt time.Time) (*models.ProjectSuggestion, error) {
	memberVecs := make([][]float64, len(members))
	segmentIDs := make([]string, len(members))
	convSet := map[string]bool{}
	for i, idx := range members {
		memberVecs[i] = vectors[idx].Vector
		segmentIDs[i] = vectors[idx].SegmentID
		convSet[vectors[idx].ConversationID] = true
	}
	convIDs := make([]string, 0, len(convSet))
	for id := range convSet {
		convIDs = append(convIDs, id)
	}
	slices.Sort(convIDs)
	slices.Sort(segmentIDs)

	centroid, err := vecmath.Mean(memberVecs)
	if err != nil {
		return nil, fmt.Errorf("cluster %d centroid: %w", label, err)
	}
	confidence, central := cohesion(centroid, memberVecs)

	samples := make([]string, 0, nameSampleSize)
	for _, i := range central[:min(nameSampleSize, len(central))] {
		seg, err := o.store.Segments.Get(ctx, vectors[members[i]].SegmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample segment: %w", err)
		}
		if seg != nil {
			samples = append(samples, seg.Content)
		}
	}
	name, summary := o.name(ctx, label, samples)

	return &models.ProjectSuggestion{
		ID:                  uuid.New().String(),
		RunID:               runID,
		ClusterLabel:        label,
		Name:                name,
		Key:                 slugify(name) + "-" + util.HashString(strings.Join(segmentIDs, ","))[:8],
		Summary:             summary,
		Confidence:          confidence,
		Status:              models.SuggestionPending,
		ConversationIDs:     convIDs,
		SegmentIDs:          segmentIDs,
		UniqueConversations: len(convIDs),
		CreatedAt:           createdAt,
	}, nil
}

// cohesion returns the mean cosine of members to the centroid clamped to
// [0,1], and member positions ordered from most to least central.
func cohesion(centroid []float64, members [][]float64) (float64, []int) {
	sims := make([]float64, len(members))
	order := make([]int, len(members))
	var total float64
	for i, v := range members {
		sims[i] = vecmath.Cosine(centroid, v)
		total += sims[i]
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case sims[a] > sims[b]:
			return -1
		case sims[a] < sims[b]:
			return 1
		}
		return 0
	})
	return vecmath.Clamp01(total / float64(len(members))), order
}

// name labels a cluster from sample texts. The LLM is asked only when
// enabled; keyword naming is the fallback and is always deterministic.
func (o *Orchestrator) name(ctx context.Context, label int, samples []string) (string, string) {
	keywords := topKeywords(samples, 3)
	name := fmt.Sprintf("Topic %d", label)
	if len(keywords) > 0 {
		titled := make([]string, len(keywords))
		for i, k := range keywords {
			r, size := utf8.DecodeRuneInString(k)
			titled[i] = string(unicode.ToUpper(r)) + k[size:]
		}
		name = strings.Join(titled, " / ")
	}
	summary := ""
	if len(keywords) > 0 {
		summary = "Conversations about " + strings.Join(keywords, ", ")
	}

	if !o.cfg.LLMNaming || len(samples) == 0 {
		return name, summary
	}

	var prompt strings.Builder
	prompt.WriteString("Excerpts from one group of conversations:\n\n")
	for i, s := range samples {
		fmt.Fprintf(&prompt, "--- excerpt %d ---\n%s\n\n", i+1, util.BoundRunes(s, 1200))
	}
	title, err := o.provider.GenerateText(ctx, prompt.String(), llm.GenerateOptions{
		System:      namingSystemPrompt,
		Temperature: 0,
		MaxTokens:   24,
	})
	if err != nil {
		o.logger.Warn("cluster naming failed, using keywords", "label", label, "error", err)
		return name, summary
	}
	title = strings.Trim(strings.TrimSpace(strings.SplitN(title, "\n", 2)[0]), `"'`)
	if title == "" {
		return name, summary
	}
	return title, summary
}
