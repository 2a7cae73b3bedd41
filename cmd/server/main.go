// ABOUTME: Standalone chatlake MCP server with stdio transport
// ABOUTME: Opens the configured lake and serves the review tools without the full CLI
package main

import (
	"log"
	"path/filepath"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/ingest"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/mcp"
	"github.com/harper/chatlake/internal/rawstore"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

func main() {
	// Load .env file if it exists (for API keys)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.NewStorage(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	raw, err := rawstore.New(filepath.Join(filepath.Dir(cfg.DBPath), "raw"), cfg.InlineThreshold)
	if err != nil {
		log.Fatalf("Failed to initialize raw store: %v", err)
	}
	tracker := runs.NewTracker(store.Runs, logger, nil)

	server := mcpserver.NewMCPServer("chatlake", "0.1.0")
	mcp.RegisterTools(server, mcp.Deps{
		Store: store,
		Ingest: ingest.NewEngine(store, raw, ingest.Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			StaleAfter:        cfg.StaleBatchAfter,
			Logger:            logger,
		}),
		Reviewer: core.NewReviewer(store, logger),
		Drift:    core.NewDriftEngine(store, tracker, core.DriftConfigFrom(cfg), logger, nil),
		Logger:   logger,
	})

	logger.Info("chatlake MCP server starting on stdio", "db", cfg.DBPath)
	if err := mcpserver.ServeStdio(server); err != nil {
		logger.Error("server error", "error", err)
	}
}
