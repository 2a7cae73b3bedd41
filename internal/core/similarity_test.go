// ABOUTME: Tests for conversation similarity edges
// ABOUTME: Covers pair ordering, top-K pruning, thresholds, and both feature methods
package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/models"
)

// seedEmbeddedConversations stores one conversation per topic entry with
// two embedded segments each
func seedEmbeddedConversations(t *testing.T, f *fixture, topics ...string) map[string]string {
	t.Helper()
	run := f.startRun(t, models.RunSegmentation)
	topicOf := map[string]string{}
	for i, topic := range topics {
		conv := f.addTopicConversation(t, topic, 4+i, time.Now())
		f.addSegments(t, run.ID, conv, topicText(topic, i, 8), topicText(topic, i+1, 8))
		topicOf[conv] = topic
	}
	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	if _, err := cache.GenerateMissing(context.Background(), f.startRun(t, models.RunEmbedding)); err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}
	return topicOf
}

func TestSimilarityEmbeddingEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	topicOf := seedEmbeddedConversations(t, f, "garden", "garden", "golang", "golang", "travel")

	engine := NewSimilarityEngine(f.store, f.tracker, SimilarityConfig{
		Method:    config.SimilarityEmbedding,
		Threshold: 0.5,
		TopK:      5,
		Model:     f.provider.EmbeddingModel(),
	}, nil, nil)
	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Conversations != 5 || result.Pairs != 10 {
		t.Errorf("compared %d conversations in %d pairs, want 5 and 10", result.Conversations, result.Pairs)
	}

	edges, err := f.store.Similarities.ListByRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(edges) != result.Edges {
		t.Fatalf("stored %d edges, result reports %d", len(edges), result.Edges)
	}
	if result.Edges != 2 {
		t.Errorf("Edges = %d, want 2", result.Edges)
	}
	for _, e := range edges {
		if e.ConversationA >= e.ConversationB {
			t.Errorf("edge not ordered: %s, %s", e.ConversationA, e.ConversationB)
		}
		if topicOf[e.ConversationA] != topicOf[e.ConversationB] {
			t.Errorf("edge joins %s and %s", topicOf[e.ConversationA], topicOf[e.ConversationB])
		}
		if e.Score < 0.5 || e.Score > 1 {
			t.Errorf("Score = %v, want within [0.5, 1]", e.Score)
		}
		if e.Method != config.SimilarityEmbedding {
			t.Errorf("Method = %s, want embedding", e.Method)
		}
	}

	run := f.runOf(t, result.RunID)
	if run.Status != models.RunCompleted {
		t.Errorf("run Status = %v, want Completed", run.Status)
	}
	if run.Type != models.RunSimilarity {
		t.Errorf("run Type = %v, want similarity", run.Type)
	}
}

func TestSimilarityTopKLimitsEachRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedEmbeddedConversations(t, f, "garden", "garden", "garden", "garden", "garden")

	engine := NewSimilarityEngine(f.store, f.tracker, SimilarityConfig{
		Method:    config.SimilarityEmbedding,
		Threshold: 0.1,
		TopK:      1,
		Model:     f.provider.EmbeddingModel(),
	}, nil, nil)
	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	edges, err := f.store.Similarities.ListByRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(edges) == 0 {
		t.Fatal("no edges stored")
	}
	degree := map[string]int{}
	for _, e := range edges {
		degree[e.ConversationA]++
		degree[e.ConversationB]++
	}
	for conv, d := range degree {
		if d > 1 {
			t.Errorf("conversation %s has %d partners, want at most 1", conv, d)
		}
	}
}

func TestCapDegreeTrimsHubs(t *testing.T) {
	// hub is every leaf's best partner; leaves also know each other weakly
	edges := []edge{
		{a: "hub", b: "l1", score: 0.9},
		{a: "hub", b: "l2", score: 0.8},
		{a: "hub", b: "l3", score: 0.7},
		{a: "hub", b: "l4", score: 0.6},
		{a: "l1", b: "l2", score: 0.3},
		{a: "l3", b: "l4", score: 0.2},
	}
	kept := capDegree(edges, 2)

	degree := map[string]int{}
	for _, e := range kept {
		degree[e.a]++
		degree[e.b]++
	}
	for conv, d := range degree {
		if d > 2 {
			t.Errorf("conversation %s has %d partners, want at most 2", conv, d)
		}
	}
	want := []edge{
		{a: "hub", b: "l1", score: 0.9},
		{a: "hub", b: "l2", score: 0.8},
		{a: "l1", b: "l2", score: 0.3},
		{a: "l3", b: "l4", score: 0.2},
	}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("capDegree() = %v, want %v", kept, want)
	}
}

func TestSimilarityEmbeddingWithoutVectorsFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	engine := NewSimilarityEngine(f.store, f.tracker, SimilarityConfig{
		Method: config.SimilarityEmbedding,
		Model:  f.provider.EmbeddingModel(),
	}, nil, nil)

	result, err := engine.Run(ctx)
	if !errors.Is(err, models.ErrNoEmbeddings) {
		t.Fatalf("Run() error = %v, want ErrNoEmbeddings", err)
	}
	if run := f.runOf(t, result.RunID); run.Status != models.RunFailed {
		t.Errorf("run Status = %v, want Failed", run.Status)
	}
}

func TestSimilarityLexicalEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	topicOf := map[string]string{}
	for i, topic := range []string{"garden", "garden", "golang", "golang"} {
		topicOf[f.addTopicConversation(t, topic, 4+i, time.Now())] = topic
	}

	engine := NewSimilarityEngine(f.store, f.tracker, SimilarityConfig{
		Method:    config.SimilarityLexical,
		Threshold: 0.3,
		TopK:      3,
	}, nil, nil)
	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Conversations != 4 {
		t.Errorf("Conversations = %d, want 4", result.Conversations)
	}

	edges, err := f.store.Similarities.ListByRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("stored %d edges, want 2", len(edges))
	}
	for _, e := range edges {
		if e.ConversationA >= e.ConversationB {
			t.Errorf("edge not ordered: %s, %s", e.ConversationA, e.ConversationB)
		}
		if topicOf[e.ConversationA] != topicOf[e.ConversationB] {
			t.Errorf("edge joins %s and %s", topicOf[e.ConversationA], topicOf[e.ConversationB])
		}
		if e.Method != config.SimilarityLexical {
			t.Errorf("Method = %s, want lexical", e.Method)
		}
	}
}

func TestSimilarityUnknownMethod(t *testing.T) {
	f := newFixture(t)
	engine := NewSimilarityEngine(f.store, f.tracker, SimilarityConfig{Method: "telepathy"}, nil, nil)
	if _, err := engine.Run(context.Background()); err == nil {
		t.Error("Run() with an unknown method should fail")
	}
}
