// ABOUTME: Shared fixtures for core engine tests
// ABOUTME: Seeds conversations, segments, and suggestions over an in-memory store and the fake provider
package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/llm"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/runs"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
)

var topicWords = map[string][]string{
	"garden":  {"garlic", "tomato", "compost", "soil", "seedling", "harvest", "mulch", "trellis", "watering", "basil"},
	"golang":  {"goroutine", "channel", "mutex", "interface", "compiler", "module", "slice", "pointer", "struct", "deadlock"},
	"travel":  {"passport", "airport", "itinerary", "hostel", "luggage", "train", "museum", "visa", "ferry", "currency"},
	"cooking": {"risotto", "saffron", "skillet", "simmer", "broth", "parmesan", "shallot", "knead", "dough", "oven"},
}

type fixture struct {
	store    *sqlite.Storage
	provider *llm.FakeProvider
	tracker  *runs.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewStorageInMemory()
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		store:    store,
		provider: llm.NewFakeProvider(64),
		tracker:  runs.NewTracker(store.Runs, nil, nil),
	}
}

// topicText returns a deterministic sentence of n words from a topic's vocabulary
func topicText(topic string, offset, n int) string {
	words := topicWords[topic]
	out := make([]string, n)
	for i := range out {
		out[i] = words[(offset+i*3)%len(words)]
	}
	return "we discussed " + strings.Join(out, " ")
}

// addConversation stores a conversation whose messages alternate user/assistant
func (f *fixture) addConversation(t *testing.T, firstAt time.Time, contents ...string) string {
	t.Helper()
	ctx := context.Background()
	turns := make([]models.Turn, len(contents))
	for i, c := range contents {
		turns[i] = models.Turn{Role: roleAt(i), Content: c}
	}
	at := firstAt.UTC()
	id, _, err := f.store.Conversations.InsertIfAbsent(ctx, &models.Conversation{
		ID:             uuid.New().String(),
		Key:            models.ConversationKey(turns),
		SourceSystem:   "test",
		FirstMessageAt: &at,
		LastMessageAt:  &at,
		FirstBatchID:   "batch",
		LastBatchID:    "batch",
		MessageCount:   len(contents),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Conversations.InsertIfAbsent() error = %v", err)
	}
	for i, c := range contents {
		_, err := f.store.Messages.InsertIfAbsent(ctx, &models.Message{
			ID:             uuid.New().String(),
			ConversationID: id,
			Role:           roleAt(i),
			SequenceIndex:  i,
			Content:        c,
			ContentHash:    util.HashString(c),
		})
		if err != nil {
			t.Fatalf("Messages.InsertIfAbsent() error = %v", err)
		}
	}
	return id
}

// addTopicConversation stores n messages about one topic
func (f *fixture) addTopicConversation(t *testing.T, topic string, n int, firstAt time.Time) string {
	t.Helper()
	contents := make([]string, n)
	for i := range contents {
		contents[i] = topicText(topic, i, 6)
	}
	return f.addConversation(t, firstAt, contents...)
}

func roleAt(i int) string {
	if i%2 == 0 {
		return models.RoleUser
	}
	return models.RoleAssistant
}

// startRun opens a run of the given type for seeding derived records
func (f *fixture) startRun(t *testing.T, runType models.RunType) *runs.Run {
	t.Helper()
	run, err := f.tracker.Start(context.Background(), runs.Spec{Type: runType, Config: map[string]string{"test": t.Name()}})
	if err != nil {
		t.Fatalf("Start(%s) error = %v", runType, err)
	}
	return run
}

// runOf loads a stored run by id
func (f *fixture) runOf(t *testing.T, id string) *models.InferenceRun {
	t.Helper()
	run, err := f.store.Runs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Runs.Get(%s) error = %v", id, err)
	}
	if run == nil {
		t.Fatalf("run %s not found", id)
	}
	return run
}

// addSegments stores one segment per content for convID
func (f *fixture) addSegments(t *testing.T, runID, convID string, contents ...string) []string {
	t.Helper()
	ids := make([]string, len(contents))
	for i, c := range contents {
		seg := &models.ConversationSegment{
			ID:             uuid.New().String(),
			ConversationID: convID,
			SegmentIndex:   i,
			StartMessage:   i,
			EndMessage:     i,
			MessageCount:   1,
			Content:        c,
			ContentHash:    util.HashString(c),
			RunID:          runID,
			CreatedAt:      time.Now().UTC(),
		}
		inserted, err := f.store.Segments.InsertIfAbsent(context.Background(), seg)
		if err != nil {
			t.Fatalf("Segments.InsertIfAbsent() error = %v", err)
		}
		if !inserted {
			t.Fatalf("segment %d of %s already existed", i, convID)
		}
		ids[i] = seg.ID
	}
	return ids
}

// addSuggestion stores a Pending suggestion over the given conversations
func (f *fixture) addSuggestion(t *testing.T, runID string, label int, convIDs, segIDs []string) *models.ProjectSuggestion {
	t.Helper()
	sg := &models.ProjectSuggestion{
		ID:                  uuid.New().String(),
		RunID:               runID,
		ClusterLabel:        label,
		Name:                fmt.Sprintf("Topic %d", label),
		Key:                 fmt.Sprintf("topic-%d", label),
		Confidence:          0.8,
		Status:              models.SuggestionPending,
		ConversationIDs:     convIDs,
		SegmentIDs:          segIDs,
		UniqueConversations: len(convIDs),
		CreatedAt:           time.Now().UTC(),
	}
	if err := f.store.Suggestions.Create(context.Background(), sg); err != nil {
		t.Fatalf("Suggestions.Create() error = %v", err)
	}
	return sg
}

func testSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Window:         4,
		Threshold:      0.55,
		MinSegment:     3,
		MaxSegment:     50,
		MinSubstantive: 4,
		MinChars:       120,
		ExcludedRoles:  DefaultExcludedRoles,
		MaxEmbedTokens: 512,
	}
}

// approx reports whether a and b agree to within 1e-9
func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
