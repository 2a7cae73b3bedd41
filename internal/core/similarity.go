// ABOUTME: SimilarityEngine links related conversations with scored, order-normalized edges
// ABOUTME: Pairwise rows are computed in parallel; no conversation keeps more than K partners
package core

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/vecmath"
)

// SimilarityConfig controls edge generation
type SimilarityConfig struct {
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
	TopK      int     `json:"top_k"`
	Model     string  `json:"model,omitempty"`
	Workers   int     `json:"-"`
}

// SimilarityConfigFrom extracts similarity settings; model is used by the embedding method
func SimilarityConfigFrom(cfg *config.Config, model string) SimilarityConfig {
	sc := SimilarityConfig{
		Method:    cfg.SimilarityMethod,
		Threshold: cfg.SimilarityThreshold,
		TopK:      cfg.SimilarityTopK,
	}
	if sc.Method == config.SimilarityEmbedding {
		sc.Model = model
	}
	return sc
}

// SimilarityResult summarizes one similarity run
type SimilarityResult struct {
	RunID         string `json:"run_id"`
	Method        string `json:"method"`
	Conversations int    `json:"conversations"`
	Pairs         int    `json:"pairs"`
	Edges         int    `json:"edges"`
}

// SimilarityEngine computes ConversationSimilarity edges
type SimilarityEngine struct {
	store   *sqlite.Storage
	tracker *runs.Tracker
	cfg     SimilarityConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewSimilarityEngine creates an engine. logger and m may be nil.
func NewSimilarityEngine(store *sqlite.Storage, tracker *runs.Tracker, cfg SimilarityConfig, logger *logging.Logger, m *metrics.Metrics) *SimilarityEngine {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &SimilarityEngine{store: store, tracker: tracker, cfg: cfg,
		logger: logger.With("component", "similarity"), metrics: m}
}

// features holds one vector per conversation in id order. Lexical vectors
// are sparse, embedding vectors dense; both are unit length.
type features struct {
	ids    []string
	dense  [][]float64
	sparse []map[string]float64
}

func (f *features) score(i, j int) float64 {
	if f.dense != nil {
		return vecmath.Cosine(f.dense[i], f.dense[j])
	}
	a, b := f.sparse[i], f.sparse[j]
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, v := range a {
		dot += v * b[k]
	}
	return dot
}

type edge struct {
	a, b  string
	score float64
}

// edgeCollector dedupes edges found from either endpoint's row
type edgeCollector struct {
	mu    sync.Mutex
	edges map[[2]string]float64
}

func (c *edgeCollector) add(row []edge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range row {
		key := [2]string{e.a, e.b}
		if prev, ok := c.edges[key]; !ok || e.score > prev {
			c.edges[key] = e.score
		}
	}
}

func (c *edgeCollector) sorted() []edge {
	out := make([]edge, 0, len(c.edges))
	for k, s := range c.edges {
		out = append(out, edge{a: k[0], b: k[1], score: s})
	}
	slices.SortFunc(out, func(x, y edge) int {
		if c := strings.Compare(x.a, y.a); c != 0 {
			return c
		}
		return strings.Compare(x.b, y.b)
	})
	return out
}

// Run computes and stores edges under a new similarity run
func (e *SimilarityEngine) Run(ctx context.Context) (*SimilarityResult, error) {
	run, err := e.tracker.Start(ctx, runs.Spec{
		Type:   models.RunSimilarity,
		Model:  e.cfg.Model,
		Config: e.cfg,
	})
	if err != nil {
		return nil, err
	}
	result := &SimilarityResult{RunID: run.ID, Method: e.cfg.Method}

	if err := e.run(ctx, run, result); err != nil {
		_ = run.Fail(ctx, err)
		return result, err
	}
	if err := run.Complete(ctx, map[string]interface{}{
		"conversations": result.Conversations,
		"pairs":         result.Pairs,
		"edges":         result.Edges,
	}); err != nil {
		return result, err
	}
	e.metrics.SimilarityEdges(result.Edges)
	e.logger.Info("similarity complete", "run_id", run.ID, "method", e.cfg.Method, "edges", result.Edges)
	return result, nil
}

func (e *SimilarityEngine) run(ctx context.Context, run *runs.Run, result *SimilarityResult) error {
	var (
		feats *features
		err   error
	)
	switch e.cfg.Method {
	case config.SimilarityEmbedding:
		feats, err = e.embeddingFeatures(ctx)
	case config.SimilarityLexical:
		feats, err = e.lexicalFeatures(ctx)
	default:
		return fmt.Errorf("unknown similarity method %q", e.cfg.Method)
	}
	if err != nil {
		return err
	}
	n := len(feats.ids)
	result.Conversations = n
	result.Pairs = n * (n - 1) / 2

	collector := &edgeCollector{edges: make(map[[2]string]float64)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range feats.ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			collector.add(e.row(feats, i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	edges := capDegree(collector.sorted(), e.cfg.TopK)
	createdAt := time.Now().UTC()
	return e.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		for _, ed := range edges {
			inserted, err := tx.Similarities.InsertIfAbsent(ctx, &models.ConversationSimilarity{
				ID:            uuid.New().String(),
				RunID:         run.ID,
				ConversationA: ed.a,
				ConversationB: ed.b,
				Score:         ed.score,
				Method:        e.cfg.Method,
				CreatedAt:     createdAt,
			})
			if err != nil {
				return fmt.Errorf("failed to store edge %s/%s: %w", ed.a, ed.b, err)
			}
			if inserted {
				result.Edges++
			}
		}
		return nil
	})
}

// capDegree keeps the strongest edges such that no conversation ends up with
// more than k partners. Edges are taken by descending score, ties by pair ids,
// and the survivors come back in pair order.
func capDegree(edges []edge, k int) []edge {
	ranked := slices.Clone(edges)
	slices.SortStableFunc(ranked, func(x, y edge) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return 0
	})
	degree := make(map[string]int)
	kept := make(map[[2]string]bool, len(ranked))
	for _, ed := range ranked {
		if degree[ed.a] >= k || degree[ed.b] >= k {
			continue
		}
		degree[ed.a]++
		degree[ed.b]++
		kept[[2]string{ed.a, ed.b}] = true
	}
	out := make([]edge, 0, len(kept))
	for _, ed := range edges {
		if kept[[2]string{ed.a, ed.b}] {
			out = append(out, ed)
		}
	}
	return out
}

// row scores conversation i against every other and keeps its top K above
// the threshold, ties broken by partner id
func (e *SimilarityEngine) row(feats *features, i int) []edge {
	type partner struct {
		j     int
		score float64
	}
	var partners []partner
	for j := range feats.ids {
		if j == i {
			continue
		}
		s := feats.score(i, j)
		if s >= e.cfg.Threshold && s > 0 {
			partners = append(partners, partner{j: j, score: math.Min(s, 1)})
		}
	}
	slices.SortFunc(partners, func(x, y partner) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return x.j - y.j
	})
	if len(partners) > e.cfg.TopK {
		partners = partners[:e.cfg.TopK]
	}
	out := make([]edge, len(partners))
	for k, p := range partners {
		a, b := models.OrderPair(feats.ids[i], feats.ids[p.j])
		out[k] = edge{a: a, b: b, score: p.score}
	}
	return out
}

// embeddingFeatures mean-pools each conversation's segment vectors
func (e *SimilarityEngine) embeddingFeatures(ctx context.Context) (*features, error) {
	vectors, err := e.store.Embeddings.ListValid(ctx, e.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w for model %s", models.ErrNoEmbeddings, e.cfg.Model)
	}
	byConv := map[string][][]float64{}
	for _, v := range vectors {
		byConv[v.ConversationID] = append(byConv[v.ConversationID], v.Vector)
	}

	feats := &features{}
	for id := range byConv {
		feats.ids = append(feats.ids, id)
	}
	slices.Sort(feats.ids)
	feats.dense = make([][]float64, len(feats.ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, id := range feats.ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mean, err := vecmath.Mean(byConv[id])
			if err != nil {
				return fmt.Errorf("conversation %s: %w", id, err)
			}
			feats.dense[i] = vecmath.Normalize(mean)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return feats, nil
}

// lexicalFeatures builds tf-idf vectors over content tokens
func (e *SimilarityEngine) lexicalFeatures(ctx context.Context) (*features, error) {
	convs, err := e.store.Conversations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	feats := &features{}
	var docs [][]string
	for _, c := range convs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := e.store.Messages.ListByConversation(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages for %s: %w", c.ID, err)
		}
		var b strings.Builder
		for _, m := range msgs {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		tokens := contentTokens(b.String())
		if len(tokens) == 0 {
			continue
		}
		feats.ids = append(feats.ids, c.ID)
		docs = append(docs, tokens)
	}
	order := make([]int, len(feats.ids))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return strings.Compare(feats.ids[a], feats.ids[b]) })
	ids := make([]string, len(order))
	sortedDocs := make([][]string, len(order))
	for k, i := range order {
		ids[k], sortedDocs[k] = feats.ids[i], docs[i]
	}
	feats.ids = ids

	df := map[string]int{}
	for _, doc := range sortedDocs {
		seen := map[string]bool{}
		for _, t := range doc {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	total := float64(len(sortedDocs))
	feats.sparse = make([]map[string]float64, len(sortedDocs))
	for i, doc := range sortedDocs {
		tf := map[string]float64{}
		for _, t := range doc {
			tf[t]++
		}
		var norm float64
		for t, c := range tf {
			w := (c / float64(len(doc))) * (math.Log(total/float64(1+df[t])) + 1)
			tf[t] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		for t := range tf {
			tf[t] /= norm
		}
		feats.sparse[i] = tf
	}
	return feats, nil
}
