// ABOUTME: Tests for MCP tool handlers
// ABOUTME: Drives handlers with CallToolRequests against an in-memory store
package mcp

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/ingest"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/rawstore"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

type testEnv struct {
	store    *sqlite.Storage
	tracker  *runs.Tracker
	handlers *Handlers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.NewStorageInMemory()
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	raw, err := rawstore.New(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("rawstore.New() error = %v", err)
	}

	tracker := runs.NewTracker(store.Runs, nil, nil)
	return &testEnv{
		store:   store,
		tracker: tracker,
		handlers: NewHandlers(Deps{
			Store:    store,
			Ingest:   ingest.NewEngine(store, raw, ingest.Options{}),
			Reviewer: core.NewReviewer(store, nil),
			Drift:    core.NewDriftEngine(store, tracker, core.DriftConfig{MinConversations: 1}, nil, nil),
		}),
	}
}

func request(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, res))
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return out
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

// list returns a decoded JSON array field, treating null as empty
func list(t *testing.T, out map[string]interface{}, field string) []interface{} {
	t.Helper()
	if out[field] == nil {
		return nil
	}
	items, ok := out[field].([]interface{})
	if !ok {
		t.Fatalf("%s is %T, want an array", field, out[field])
	}
	return items
}

// wantToolError fails unless res is a tool error whose text mentions code
func wantToolError(t *testing.T, res *mcp.CallToolResult, err error, code string) {
	t.Helper()
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected a tool error, got %s", text(t, res))
	}
	if code != "" && !strings.Contains(text(t, res), code) {
		t.Errorf("tool error %q does not mention %s", text(t, res), code)
	}
}

func (e *testEnv) conversation(t *testing.T, title string) string {
	t.Helper()
	id, _, err := e.store.Conversations.InsertIfAbsent(context.Background(), &models.Conversation{
		ID:           uuid.New().String(),
		Key:          uuid.New().String(),
		SourceSystem: "test",
		Title:        title,
		FirstBatchID: "batch",
		LastBatchID:  "batch",
		MessageCount: 2,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Conversations.InsertIfAbsent() error = %v", err)
	}
	return id
}

func (e *testEnv) suggestion(t *testing.T, convIDs ...string) *models.ProjectSuggestion {
	t.Helper()
	ctx := context.Background()
	run, err := e.tracker.Start(ctx, runs.Spec{Type: models.RunClustering})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sg := &models.ProjectSuggestion{
		ID:                  uuid.New().String(),
		RunID:               run.ID,
		Name:                "Garden",
		Key:                 "garden",
		Confidence:          0.9,
		Status:              models.SuggestionPending,
		ConversationIDs:     convIDs,
		SegmentIDs:          []string{},
		UniqueConversations: len(convIDs),
		CreatedAt:           time.Now().UTC(),
	}
	if err := e.store.Suggestions.Create(ctx, sg); err != nil {
		t.Fatalf("Suggestions.Create() error = %v", err)
	}
	if err := run.Complete(ctx, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	return sg
}

func TestImportStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	batch := &models.ImportBatch{
		ID:          uuid.New().String(),
		SourceLabel: "laptop",
		Status:      models.BatchStaged,
		StartedAt:   time.Now().UTC(),
	}
	if err := env.store.Batches.Create(ctx, batch); err != nil {
		t.Fatalf("Batches.Create() error = %v", err)
	}

	res, err := env.handlers.ImportStatus(ctx, request(nil))
	if err != nil {
		t.Fatalf("ImportStatus() error = %v", err)
	}
	batches := list(t, decode(t, res), "batches")
	if len(batches) != 1 {
		t.Fatalf("listed %d batches, want 1", len(batches))
	}
	if id := batches[0].(map[string]interface{})["id"]; id != batch.ID {
		t.Errorf("batch id = %v, want %s", id, batch.ID)
	}

	res, err = env.handlers.ImportStatus(ctx, request(map[string]interface{}{"batch_id": batch.ID}))
	if err != nil {
		t.Fatalf("ImportStatus() error = %v", err)
	}
	out := decode(t, res)
	if out["stale"] != false {
		t.Errorf("stale = %v, want false", out["stale"])
	}
	if _, ok := out["failures"]; !ok {
		t.Error("batch detail has no failures field")
	}

	res, err = env.handlers.ImportStatus(ctx, request(map[string]interface{}{"batch_id": "missing"}))
	wantToolError(t, res, err, "not_found")
}

func TestListAndAcceptSuggestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, b := env.conversation(t, "tomatoes"), env.conversation(t, "compost")
	sg := env.suggestion(t, a, b)

	res, err := env.handlers.ListSuggestions(ctx, request(nil))
	if err != nil {
		t.Fatalf("ListSuggestions() error = %v", err)
	}
	listed := list(t, decode(t, res), "suggestions")
	if len(listed) != 1 {
		t.Fatalf("listed %d suggestions, want 1", len(listed))
	}
	if id := listed[0].(map[string]interface{})["id"]; id != sg.ID {
		t.Errorf("suggestion id = %v, want %s", id, sg.ID)
	}

	res, err = env.handlers.ReviewSuggestion(ctx, request(map[string]interface{}{
		"suggestion_id": sg.ID,
		"action":        "accept",
	}))
	if err != nil {
		t.Fatalf("ReviewSuggestion() error = %v", err)
	}
	project := decode(t, res)["project"].(map[string]interface{})
	if project["name"] != "Garden" {
		t.Errorf("project name = %v, want Garden", project["name"])
	}

	res, err = env.handlers.ListSuggestions(ctx, request(nil))
	if err != nil {
		t.Fatalf("ListSuggestions() error = %v", err)
	}
	if pending := list(t, decode(t, res), "suggestions"); len(pending) != 0 {
		t.Errorf("%d suggestions still pending, want 0", len(pending))
	}

	res, err = env.handlers.ListSuggestions(ctx, request(map[string]interface{}{"status": "all"}))
	if err != nil {
		t.Fatalf("ListSuggestions() error = %v", err)
	}
	if all := list(t, decode(t, res), "suggestions"); len(all) != 1 {
		t.Errorf("listed %d suggestions with status all, want 1", len(all))
	}

	res, err = env.handlers.ReviewSuggestion(ctx, request(map[string]interface{}{
		"suggestion_id": sg.ID,
		"action":        "reject",
	}))
	wantToolError(t, res, err, "conflict")
}

func TestReviewSuggestionValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sg := env.suggestion(t, env.conversation(t, "tomatoes"))

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing suggestion id", map[string]interface{}{"action": "accept"}},
		{"missing action", map[string]interface{}{"suggestion_id": sg.ID}},
		{"merge without project", map[string]interface{}{"suggestion_id": sg.ID, "action": "merge"}},
		{"unknown action", map[string]interface{}{"suggestion_id": sg.ID, "action": "shrug"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.handlers.ReviewSuggestion(ctx, request(tt.args))
			wantToolError(t, res, err, "")
		})
	}

	res, err := env.handlers.ListSuggestions(ctx, request(map[string]interface{}{"status": "Maybe"}))
	wantToolError(t, res, err, "")

	stored, err := env.store.Suggestions.Get(ctx, sg.ID)
	if err != nil {
		t.Fatalf("Suggestions.Get() error = %v", err)
	}
	if stored.Status != models.SuggestionPending {
		t.Errorf("Status = %v, want Pending", stored.Status)
	}
}

func TestRelatedConversations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, b := env.conversation(t, "tomatoes"), env.conversation(t, "compost")

	// no similarity run yet
	res, err := env.handlers.RelatedConversations(ctx, request(map[string]interface{}{"conversation_id": a}))
	wantToolError(t, res, err, "")

	run, err := env.tracker.Start(ctx, runs.Spec{Type: models.RunSimilarity})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first, second := models.OrderPair(a, b)
	_, err = env.store.Similarities.InsertIfAbsent(ctx, &models.ConversationSimilarity{
		ID:            uuid.New().String(),
		RunID:         run.ID,
		ConversationA: first,
		ConversationB: second,
		Score:         0.8,
		Method:        "embedding",
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Similarities.InsertIfAbsent() error = %v", err)
	}
	if err := run.Complete(ctx, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	res, err = env.handlers.RelatedConversations(ctx, request(map[string]interface{}{"conversation_id": a}))
	if err != nil {
		t.Fatalf("RelatedConversations() error = %v", err)
	}
	out := decode(t, res)
	if out["run_id"] != run.ID {
		t.Errorf("run_id = %v, want %s", out["run_id"], run.ID)
	}
	related := list(t, out, "related")
	if len(related) != 1 {
		t.Fatalf("related = %d entries, want 1", len(related))
	}
	entry := related[0].(map[string]interface{})
	if entry["conversation_id"] != b {
		t.Errorf("conversation_id = %v, want %s", entry["conversation_id"], b)
	}
	if entry["title"] != "compost" {
		t.Errorf("title = %v, want compost", entry["title"])
	}
	if score, _ := entry["score"].(float64); math.Abs(score-0.8) > 1e-9 {
		t.Errorf("score = %v, want 0.8", entry["score"])
	}
}

func TestProjectDrift(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.handlers.ProjectDrift(ctx, request(map[string]interface{}{"project_id": "missing"}))
	wantToolError(t, res, err, "")

	project := &models.Project{ID: uuid.New().String(), Name: "Home", Key: "home", CreatedAt: time.Now().UTC()}
	if err := env.store.Projects.Create(ctx, project); err != nil {
		t.Fatalf("Projects.Create() error = %v", err)
	}

	res, err = env.handlers.ProjectDrift(ctx, request(map[string]interface{}{"project_id": project.ID}))
	if err != nil {
		t.Fatalf("ProjectDrift() error = %v", err)
	}
	if metrics := list(t, decode(t, res), "metrics"); len(metrics) != 0 {
		t.Errorf("metrics = %d entries, want 0", len(metrics))
	}

	res, err = env.handlers.ProjectDrift(ctx, request(map[string]interface{}{"project_id": project.ID, "compute": true}))
	wantToolError(t, res, err, "precondition")

	env.suggestion(t, env.conversation(t, "tomatoes"))
	res, err = env.handlers.ProjectDrift(ctx, request(map[string]interface{}{"project_id": project.ID, "compute": true}))
	if err != nil {
		t.Fatalf("ProjectDrift() error = %v", err)
	}
	out := decode(t, res)
	if out["run_id"] == "" || out["run_id"] == nil {
		t.Error("computed drift reports no run_id")
	}
	if metrics := list(t, out, "metrics"); len(metrics) != 0 {
		t.Errorf("metrics = %d entries, want 0", len(metrics))
	}
}
