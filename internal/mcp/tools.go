// ABOUTME: MCP tool definitions and registration for the chatlake review boundary
// ABOUTME: Exposes import status, suggestion review, related conversations, and project drift
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/ingest"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

// Deps are the components the tools call into
type Deps struct {
	Store    *sqlite.Storage
	Ingest   *ingest.Engine
	Reviewer *core.Reviewer
	Drift    *core.DriftEngine
	Logger   *logging.Logger
}

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, deps Deps) *Handlers {
	handlers := NewHandlers(deps)

	// 1. import_status - batch progress and failures
	server.AddTool(mcp.Tool{
		Name:        "import_status",
		Description: "Show an import batch with its progress and recorded failures, or list recent batches when no id is given.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"batch_id": map[string]interface{}{
					"type":        "string",
					"description": "Import batch ID",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of batches to list (default: 20)",
					"default":     20,
				},
			},
		},
	}, handlers.ImportStatus)

	// 2. list_suggestions - cluster suggestions awaiting review
	server.AddTool(mcp.Tool{
		Name:        "list_suggestions",
		Description: "List project suggestions produced by clustering runs, highest confidence first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Pending, Accepted, Rejected, Merged, or all (default: Pending)",
					"default":     "Pending",
				},
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Only suggestions from this clustering run",
				},
			},
		},
	}, handlers.ListSuggestions)

	// 3. review_suggestion - accept, reject, or merge
	server.AddTool(mcp.Tool{
		Name:        "review_suggestion",
		Description: "Resolve a Pending suggestion: accept it as a new project, reject it, or merge its conversations into an existing project.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"suggestion_id": map[string]interface{}{
					"type":        "string",
					"description": "Suggestion ID",
				},
				"action": map[string]interface{}{
					"type":        "string",
					"enum":        []string{actionAccept, actionReject, actionMerge},
					"description": "Review decision",
				},
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Target project (required for merge)",
				},
			},
			Required: []string{"suggestion_id", "action"},
		},
	}, handlers.ReviewSuggestion)

	// 4. related_conversations - similarity neighbours
	server.AddTool(mcp.Tool{
		Name:        "related_conversations",
		Description: "List conversations related to a conversation, strongest first, from the latest similarity run.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation ID",
				},
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Similarity run to read (default: latest completed)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of related conversations (default: 10)",
					"default":     10,
				},
			},
			Required: []string{"conversation_id"},
		},
	}, handlers.RelatedConversations)

	// 5. project_drift - windowed topic drift
	server.AddTool(mcp.Tool{
		Name:        "project_drift",
		Description: "Show how a project's topic mix changed across time windows. Set compute to record a fresh drift run first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Project ID",
				},
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Only metrics from this drift run",
				},
				"compute": map[string]interface{}{
					"type":        "boolean",
					"description": "Compute drift now before reporting (default: false)",
					"default":     false,
				},
			},
			Required: []string{"project_id"},
		},
	}, handlers.ProjectDrift)

	return handlers
}
