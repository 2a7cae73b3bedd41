// ABOUTME: Benchmark runner: generates an export and drives every pipeline phase over it
// ABOUTME: Times each phase, runs the checks, and exports the report as JSON

package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/exportfmt"
	"github.com/harper/chatlake/internal/ingest"
	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/rawstore"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

// MinPurity is the cluster purity the benchmark requires
const MinPurity = 0.8

// PhaseTiming is how long one phase took
type PhaseTiming struct {
	Phase    string        `json:"phase"`
	Duration time.Duration `json:"duration_ns"`
	Items    int           `json:"items"`
}

// Report is the benchmark outcome
type Report struct {
	Generator     GeneratorConfig `json:"generator"`
	Conversations int             `json:"conversations"`
	Segments      int             `json:"segments"`
	Points        int             `json:"points"`
	Clusters      int             `json:"clusters"`
	Noise         int             `json:"noise"`
	Edges         int             `json:"similarity_edges"`
	Purity        float64         `json:"purity"`
	Phases        []PhaseTiming   `json:"phases"`
	Checks        []Check         `json:"checks"`
	Passed        bool            `json:"passed"`
}

// Runner executes the synthetic benchmark
type Runner struct {
	gen      GeneratorConfig
	pipeline *config.Config
	logger   *logging.Logger
	out      io.Writer
	verbose  bool
}

// NewRunner creates a runner. Progress lines go to out when verbose.
func NewRunner(gen GeneratorConfig, verbose bool, out io.Writer) (*Runner, error) {
	logger := logging.Nop()
	if verbose {
		var err error
		if logger, err = logging.New("dev", "debug"); err != nil {
			return nil, err
		}
	}

	pipeline := config.Defaults()
	// keyword naming keeps cluster keys comparable across runs
	pipeline.LLMNaming = false
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}

	return &Runner{gen: gen, pipeline: pipeline, logger: logger, out: out, verbose: verbose}, nil
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.verbose {
		fmt.Fprintf(r.out, format+"\n", args...)
	}
}

func (r *Runner) timed(report *Report, phase string, fn func() (int, error)) error {
	start := time.Now()
	items, err := fn()
	elapsed := time.Since(start)
	report.Phases = append(report.Phases, PhaseTiming{Phase: phase, Duration: elapsed, Items: items})
	r.logf("  %-16s %6d items  %v", phase, items, elapsed.Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	return nil
}

// Run generates the export into a temporary directory and runs every phase
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{Generator: r.gen}

	convs, err := Generate(r.gen)
	if err != nil {
		return nil, err
	}
	report.Conversations = len(convs)

	tmpDir, err := os.MkdirTemp("", "chatlake-bench-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	exportPath := filepath.Join(tmpDir, "export.json")
	if err := writeExportFile(exportPath, convs); err != nil {
		return nil, err
	}

	store, err := sqlite.NewStorage(filepath.Join(tmpDir, "bench.db"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	raw, err := rawstore.New(filepath.Join(tmpDir, "raw"), r.pipeline.InlineThreshold)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	tracker := runs.NewTracker(store.Runs, r.logger, m)
	provider := llm.NewFakeProvider(64)
	engine := ingest.NewEngine(store, raw, ingest.Options{
		HeartbeatInterval: r.pipeline.HeartbeatInterval,
		StaleAfter:        r.pipeline.StaleBatchAfter,
		Logger:            r.logger,
		Metrics:           m,
	})
	segmenter := core.NewSegmenter(store, provider, tracker, core.SegmenterConfigFrom(r.pipeline), r.logger)
	cache := core.NewEmbeddingCache(store, provider, core.EmbeddingCacheOptions{
		MaxEmbedTokens: r.pipeline.MaxEmbedTokens,
		CheckpointSize: r.pipeline.CheckpointSize,
		Logger:         r.logger,
		Metrics:        m,
	})
	orch := core.NewOrchestrator(store, segmenter, cache, provider, tracker,
		core.ClusterConfigFrom(r.pipeline, cache.Model()), r.logger, m)
	similarity := core.NewSimilarityEngine(store, tracker,
		core.SimilarityConfigFrom(r.pipeline, cache.Model()), r.logger, m)

	r.logf("Running synthetic benchmark: %d topics x %d conversations", r.gen.Topics, r.gen.ConversationsPerTopic)

	var batches [2]*models.ImportBatch
	for i := range batches {
		err := r.timed(report, fmt.Sprintf("import_%d", i+1), func() (int, error) {
			b, err := importFile(ctx, engine, exportPath)
			batches[i] = b
			return len(convs), err
		})
		if err != nil {
			return report, err
		}
	}
	report.Checks = append(report.Checks, CheckIdempotentImport(batches[0], batches[1], len(convs)))

	var segStats [2]*core.SegmentStats
	for i := range segStats {
		err := r.timed(report, fmt.Sprintf("segment_%d", i+1), func() (int, error) {
			s, err := segmenter.SegmentAll(ctx)
			segStats[i] = s
			if s == nil {
				return 0, err
			}
			return s.Conversations, err
		})
		if err != nil {
			return report, err
		}
	}
	report.Segments = segStats[0].Segments
	report.Checks = append(report.Checks, CheckIdempotentSegmentation(segStats[0], segStats[1]))

	var embStats [2]*core.EmbedStats
	for i := range embStats {
		err := r.timed(report, fmt.Sprintf("embed_%d", i+1), func() (int, error) {
			s, err := cache.EmbedAll(ctx, tracker)
			embStats[i] = s
			if s == nil {
				return 0, err
			}
			return s.Generated, err
		})
		if err != nil {
			return report, err
		}
	}
	report.Checks = append(report.Checks, CheckEmbeddingCache(embStats[0], embStats[1]))

	var clusters [2]*core.ClusterResult
	for i := range clusters {
		err := r.timed(report, fmt.Sprintf("cluster_%d", i+1), func() (int, error) {
			res, err := orch.Cluster(ctx, nil)
			clusters[i] = res
			return res.Points, err
		})
		if err != nil {
			return report, err
		}
	}
	report.Points = clusters[0].Points
	report.Clusters = clusters[0].Clusters
	report.Noise = clusters[0].Noise
	report.Checks = append(report.Checks, CheckReproducible(clusters[0], clusters[1]))

	err = r.timed(report, "similarity", func() (int, error) {
		res, err := similarity.Run(ctx)
		if res != nil {
			report.Edges = res.Edges
			return res.Pairs, err
		}
		return 0, err
	})
	if err != nil {
		return report, err
	}

	topicOf, err := conversationTopics(ctx, store)
	if err != nil {
		return report, err
	}
	report.Purity = Purity(clusters[0].Suggestions, topicOf)
	report.Checks = append(report.Checks, CheckPurity(clusters[0].Suggestions, topicOf, MinPurity))

	report.Passed = true
	for _, c := range report.Checks {
		report.Passed = report.Passed && c.Passed
	}
	return report, nil
}

func writeExportFile(path string, convs []exportfmt.CanonicalConversation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteExport(f, convs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func importFile(ctx context.Context, engine *ingest.Engine, path string) (*models.ImportBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return engine.Import(ctx, ingest.ImportRequest{
		Source: "synthetic",
		Files:  []ingest.ImportFile{{Name: filepath.Base(path), Format: exportfmt.FormatChatlake, Reader: f}},
	})
}

// conversationTopics maps stored conversation IDs to their generated topic
func conversationTopics(ctx context.Context, store *sqlite.Storage) (map[string]string, error) {
	convs, err := store.Conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	topicOf := make(map[string]string, len(convs))
	for _, c := range convs {
		topicOf[c.ID] = TopicOf(c.ExternalID)
	}
	return topicOf, nil
}

// ExportResults writes the report as indented JSON to path
func ExportResults(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
