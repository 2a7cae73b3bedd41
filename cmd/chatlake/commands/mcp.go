// ABOUTME: MCP command starts the Model Context Protocol server
// ABOUTME: Lets agents check imports and review suggestions over stdio
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/mcp"
)

// NewMCPCmd creates the MCP command
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for LLM agents",
		Long: `Start MCP server for LLM agents

Runs chatlake as an MCP (Model Context Protocol) server on stdio. Agents
can check import batches, review project suggestions, list related
conversations, and read project drift.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
		Example: `  # Start MCP server (typically called by an MCP client)
  chatlake mcp

  # Configure in the client's config file:
  # {
  #   "mcpServers": {
  #     "chatlake": {
  #       "command": "chatlake",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	server := mcpserver.NewMCPServer("chatlake", versionInfo.Version)
	mcp.RegisterTools(server, mcp.Deps{
		Store:    a.store,
		Ingest:   a.ingestEngine(),
		Reviewer: core.NewReviewer(a.store, a.logger),
		Drift:    core.NewDriftEngine(a.store, a.tracker, core.DriftConfigFrom(a.cfg), a.logger, a.metrics),
		Logger:   a.logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("MCP server starting on stdio")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}
