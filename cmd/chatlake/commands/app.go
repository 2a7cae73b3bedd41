// ABOUTME: Shared command setup: config, logger, storage, metrics, and provider
// ABOUTME: Every data command opens one app and closes it when done
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/ingest"
	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/rawstore"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

// providerFactory builds the embedding/generation provider. Tests replace it.
var providerFactory = func(cfg *config.Config) (llm.Provider, error) {
	return llm.NewOpenAIClient(llm.ConfigFrom(cfg))
}

type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	store   *sqlite.Storage
	raw     *rawstore.Store
	tracker *runs.Tracker

	stopMetrics context.CancelFunc
}

func openApp(cmd *cobra.Command) (*app, error) {
	// Load .env for API keys
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	level := cfg.LogLevel
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "warn"
	}
	logger, err := logging.New(cfg.LogMode, level)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	store, err := sqlite.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	raw, err := rawstore.New(filepath.Join(filepath.Dir(cfg.DBPath), "raw"), cfg.InlineThreshold)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing raw store: %w", err)
	}

	m := metrics.New()
	a := &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		store:       store,
		raw:         raw,
		tracker:     runs.NewTracker(store.Runs, logger, m),
		stopMetrics: func() {},
	}

	addr := metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		a.stopMetrics = cancel
		go func() {
			if err := m.Serve(ctx, addr); err != nil {
				logger.Warn("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		logger.Debug("serving metrics", "addr", addr)
	}

	return a, nil
}

func (a *app) Close() {
	a.stopMetrics()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
	a.logger.Sync()
}

func (a *app) provider() (llm.Provider, error) {
	p, err := providerFactory(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing provider: %w", err)
	}
	return p, nil
}

func (a *app) ingestEngine() *ingest.Engine {
	return ingest.NewEngine(a.store, a.raw, ingest.Options{
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		StaleAfter:        a.cfg.StaleBatchAfter,
		Logger:            a.logger,
		Metrics:           a.metrics,
	})
}

func (a *app) embeddingCache(p llm.Provider) *core.EmbeddingCache {
	return core.NewEmbeddingCache(a.store, p, core.EmbeddingCacheOptions{
		MaxEmbedTokens: a.cfg.MaxEmbedTokens,
		CheckpointSize: a.cfg.CheckpointSize,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
}

func (a *app) segmenter(p llm.Provider) *core.Segmenter {
	return core.NewSegmenter(a.store, p, a.tracker, core.SegmenterConfigFrom(a.cfg), a.logger)
}

// wantJSON reports whether output should be JSON. In auto mode anything
// that is not a terminal gets JSON.
func wantJSON(cmd *cobra.Command) bool {
	switch outputFormat {
	case formatJSON:
		return true
	case formatTable:
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return !ok || !isatty.IsTerminal(f.Fd())
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
}
