// ABOUTME: MCP tool handler implementations for the chatlake review boundary
// ABOUTME: Handlers report failures as tool errors and return JSON text results
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/models"
)

// Review actions
const (
	actionAccept = "accept"
	actionReject = "reject"
	actionMerge  = "merge"
)

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	deps   Deps
	logger *logging.Logger
}

// NewHandlers creates handlers without registering them
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handlers{deps: deps, logger: logger.With("component", "mcp")}
}

// ImportStatus handles the import_status tool
func (h *Handlers) ImportStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if batchID := request.GetString("batch_id", ""); batchID != "" {
		report, err := h.deps.Ingest.Status(ctx, batchID)
		if err != nil {
			return toolError("failed to get batch", err), nil
		}
		return jsonResult(map[string]interface{}{
			"batch":    report.Batch,
			"progress": report.Batch.Progress(),
			"stale":    report.Stale,
			"failures": report.Failures,
		})
	}

	batches, err := h.deps.Ingest.List(ctx, "", request.GetInt("limit", 20))
	if err != nil {
		return toolError("failed to list batches", err), nil
	}
	summaries := make([]map[string]interface{}, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, map[string]interface{}{
			"id":                    b.ID,
			"source":                b.SourceLabel,
			"status":                string(b.Status),
			"progress":              b.Progress(),
			"conversations_created": b.ConversationsCreated,
			"messages_inserted":     b.MessagesInserted,
			"artifact_failures":     b.ArtifactFailures,
			"started_at":            b.StartedAt.Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]interface{}{"batches": summaries})
}

// ListSuggestions handles the list_suggestions tool
func (h *Handlers) ListSuggestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.SuggestionStatus(request.GetString("status", string(models.SuggestionPending)))
	if status == "all" {
		status = ""
	} else if !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", status)), nil
	}

	suggestions, err := h.deps.Store.Suggestions.List(ctx, status, request.GetString("run_id", ""))
	if err != nil {
		return toolError("failed to list suggestions", err), nil
	}
	out := make([]map[string]interface{}, 0, len(suggestions))
	for _, sg := range suggestions {
		out = append(out, map[string]interface{}{
			"id":                   sg.ID,
			"run_id":               sg.RunID,
			"name":                 sg.Name,
			"summary":              sg.Summary,
			"confidence":           sg.Confidence,
			"status":               string(sg.Status),
			"unique_conversations": sg.UniqueConversations,
			"segments":             len(sg.SegmentIDs),
			"conversation_ids":     sg.ConversationIDs,
		})
	}
	return jsonResult(map[string]interface{}{"suggestions": out})
}

// ReviewSuggestion handles the review_suggestion tool
func (h *Handlers) ReviewSuggestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	suggestionID, err := request.RequireString("suggestion_id")
	if err != nil {
		return mcp.NewToolResultError("suggestion_id argument is required and must be a string"), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action argument is required and must be a string"), nil
	}

	var project *models.Project
	switch action {
	case actionAccept:
		project, err = h.deps.Reviewer.Accept(ctx, suggestionID)
	case actionReject:
		err = h.deps.Reviewer.Reject(ctx, suggestionID)
	case actionMerge:
		projectID := request.GetString("project_id", "")
		if projectID == "" {
			return mcp.NewToolResultError("project_id is required for merge"), nil
		}
		project, err = h.deps.Reviewer.Merge(ctx, suggestionID, projectID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	if err != nil {
		return toolError("review failed", err), nil
	}
	h.logger.Info("suggestion reviewed", "suggestion_id", suggestionID, "action", action)

	response := map[string]interface{}{
		"suggestion_id": suggestionID,
		"action":        action,
	}
	if project != nil {
		response["project"] = project
	}
	return jsonResult(response)
}

// RelatedConversations handles the related_conversations tool
func (h *Handlers) RelatedConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID, err := request.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}

	runID := request.GetString("run_id", "")
	if runID == "" {
		run, err := h.deps.Store.Runs.LatestCompleted(ctx, models.RunSimilarity)
		if err != nil {
			return toolError("failed to find similarity run", err), nil
		}
		if run == nil {
			return mcp.NewToolResultError("no completed similarity run; run `chatlake similarity` first"), nil
		}
		runID = run.ID
	}

	edges, err := h.deps.Store.Similarities.ListForConversation(ctx, runID, convID, request.GetInt("limit", 10))
	if err != nil {
		return toolError("failed to list related conversations", err), nil
	}
	related := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		other := e.ConversationA
		if other == convID {
			other = e.ConversationB
		}
		entry := map[string]interface{}{
			"conversation_id": other,
			"score":           e.Score,
			"method":          e.Method,
		}
		conv, err := h.deps.Store.Conversations.Get(ctx, other)
		if err != nil {
			return toolError("failed to get conversation", err), nil
		}
		if conv != nil {
			entry["title"] = conv.Title
			entry["message_count"] = conv.MessageCount
		}
		related = append(related, entry)
	}
	return jsonResult(map[string]interface{}{
		"conversation_id": convID,
		"run_id":          runID,
		"related":         related,
	})
}

// ProjectDrift handles the project_drift tool
func (h *Handlers) ProjectDrift(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id argument is required and must be a string"), nil
	}

	runID := request.GetString("run_id", "")
	if request.GetBool("compute", false) {
		result, err := h.deps.Drift.Compute(ctx, projectID, time.Now())
		if err != nil {
			return toolError("drift computation failed", err), nil
		}
		runID = result.RunID
	}

	project, err := h.deps.Store.Projects.Get(ctx, projectID)
	if err != nil {
		return toolError("failed to get project", err), nil
	}
	if project == nil {
		return toolError("failed to get project", fmt.Errorf("%w: project %s", models.ErrNotFound, projectID)), nil
	}
	metrics, err := h.deps.Store.Drift.ListByProject(ctx, projectID, runID)
	if err != nil {
		return toolError("failed to list drift metrics", err), nil
	}
	if metrics == nil {
		metrics = []models.ProjectDriftMetric{}
	}
	return jsonResult(map[string]interface{}{
		"project": project,
		"run_id":  runID,
		"metrics": metrics,
	})
}

// toolError turns err into a tool-level error result, naming the sentinel
// kind so clients can tell a missing record from a conflict
func toolError(msg string, err error) *mcp.CallToolResult {
	kind := ""
	switch {
	case errors.Is(err, models.ErrNotFound):
		kind = "not_found: "
	case errors.Is(err, models.ErrSuggestionNotPending):
		kind = "conflict: "
	case errors.Is(err, models.ErrNoClusteringRun), errors.Is(err, models.ErrNoEmbeddings):
		kind = "precondition: "
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s%s: %v", kind, msg, err))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}
