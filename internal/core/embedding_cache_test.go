// ABOUTME: Tests for the content-hash keyed embedding cache
// ABOUTME: Covers hits, stale replacement, bulk checkpoints, and provider failures
package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/util"
)

func TestGetOrGenerateCachesByContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8), topicText("garden", 1, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	embedRun := f.startRun(t, models.RunEmbedding)
	first, err := cache.GetOrGenerate(ctx, embedRun, ids[0])
	if err != nil {
		t.Fatalf("GetOrGenerate() error = %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("len(vector) = %d, want 64", len(first))
	}
	calls := f.provider.EmbedCalls()

	again, err := cache.GetOrGenerate(ctx, embedRun, ids[0])
	if err != nil {
		t.Fatalf("GetOrGenerate() error = %v", err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Error("cached vector differs from the generated one")
	}
	if f.provider.EmbedCalls() != calls {
		t.Errorf("cache hit called the provider: %d calls, want %d", f.provider.EmbedCalls(), calls)
	}
}

func TestGetOrGenerateReplacesOnlyTheChangedSegment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8), topicText("golang", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	embedRun := f.startRun(t, models.RunEmbedding)
	for _, id := range ids {
		if _, err := cache.GetOrGenerate(ctx, embedRun, id); err != nil {
			t.Fatalf("GetOrGenerate(%s) error = %v", id, err)
		}
	}
	before, err := f.store.Embeddings.Get(ctx, ids[1], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}

	changed := topicText("travel", 0, 8)
	if err := f.store.Segments.ReplaceContent(ctx, ids[0], changed, util.HashString(changed)); err != nil {
		t.Fatalf("ReplaceContent() error = %v", err)
	}

	vec, err := cache.GetOrGenerate(ctx, embedRun, ids[0])
	if err != nil {
		t.Fatalf("GetOrGenerate() error = %v", err)
	}
	want, err := f.provider.Embed(ctx, changed)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if !reflect.DeepEqual(vec, want) {
		t.Error("vector was not regenerated from the new content")
	}

	entry, err := f.store.Embeddings.Get(ctx, ids[0], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}
	if entry.SourceHash != util.HashString(changed) {
		t.Errorf("SourceHash = %s, want hash of the new content", entry.SourceHash)
	}

	after, err := f.store.Embeddings.Get(ctx, ids[1], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}
	if after.ID != before.ID || after.SourceHash != before.SourceHash {
		t.Error("untouched segment's entry was replaced")
	}
}

func TestGetOrGenerateUnknownSegment(t *testing.T) {
	f := newFixture(t)
	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	_, err := cache.GetOrGenerate(context.Background(), f.startRun(t, models.RunEmbedding), "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetOrGenerate() error = %v, want ErrNotFound", err)
	}
}

func TestGetOrGenerateProviderFailureReturnsNil(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.FailWhen = func(string) bool { return true }
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	embedRun := f.startRun(t, models.RunEmbedding)
	vec, err := cache.GetOrGenerate(ctx, embedRun, ids[0])
	if err != nil {
		t.Fatalf("GetOrGenerate() error = %v", err)
	}
	if vec != nil {
		t.Errorf("GetOrGenerate() = %v, want nil when the provider fails", vec)
	}

	n, err := f.store.Embeddings.Count(ctx, cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Embeddings.Count() = %d, want 0", n)
	}
}

func TestGenerateMissingCheckpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.FailWhen = func(text string) bool { return strings.Contains(text, "passport") }
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	f.addSegments(t, run.ID, conv,
		topicText("garden", 0, 8), topicText("garden", 1, 8), topicText("golang", 0, 8),
		topicText("golang", 1, 8), topicText("cooking", 0, 8), "passport control took an hour")

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{CheckpointSize: 2})
	embedRun := f.startRun(t, models.RunEmbedding)
	stats, err := cache.GenerateMissing(ctx, embedRun)
	if err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}
	if stats.Missing != 6 || stats.Generated != 5 || stats.Failed != 1 {
		t.Errorf("stats = %d missing, %d generated, %d failed; want 6, 5, 1", stats.Missing, stats.Generated, stats.Failed)
	}
	if stats.Checkpoints != 3 {
		t.Errorf("Checkpoints = %d, want 3", stats.Checkpoints)
	}

	valid, err := f.store.Embeddings.ListValid(ctx, cache.Model())
	if err != nil {
		t.Fatalf("ListValid() error = %v", err)
	}
	if len(valid) != 5 {
		t.Errorf("ListValid() = %d, want 5", len(valid))
	}

	again, err := cache.GenerateMissing(ctx, embedRun)
	if err != nil {
		t.Fatalf("second GenerateMissing() error = %v", err)
	}
	if again.Missing != 1 {
		t.Errorf("second pass Missing = %d, want 1", again.Missing)
	}
	if again.Generated != 0 {
		t.Errorf("second pass Generated = %d, want 0", again.Generated)
	}
}

func TestGenerateMissingInvalidatesStaleEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8), topicText("golang", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	if _, err := cache.GenerateMissing(ctx, f.startRun(t, models.RunEmbedding)); err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}

	changed := topicText("cooking", 2, 8)
	if err := f.store.Segments.ReplaceContent(ctx, ids[1], changed, util.HashString(changed)); err != nil {
		t.Fatalf("ReplaceContent() error = %v", err)
	}

	stats, err := cache.GenerateMissing(ctx, f.startRun(t, models.RunEmbedding))
	if err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}
	if stats.Invalidated != 1 {
		t.Errorf("Invalidated = %d, want 1", stats.Invalidated)
	}
	if stats.Generated != 1 {
		t.Errorf("Generated = %d, want 1", stats.Generated)
	}

	entry, err := f.store.Embeddings.Get(ctx, ids[1], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}
	if !entry.IsValidFor(util.HashString(changed)) {
		t.Error("regenerated entry is not valid for the new content")
	}
}

func TestGenerateMissingCommitsBeforeCancellation(t *testing.T) {
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	f.addSegments(t, run.ID, conv, topicText("garden", 0, 8), topicText("garden", 1, 8), topicText("garden", 2, 8))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.provider.FailWhen = func(string) bool {
		calls++
		if calls == 2 {
			cancel()
		}
		return false
	}

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{CheckpointSize: 10})
	stats, err := cache.GenerateMissing(ctx, f.startRun(t, models.RunEmbedding))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GenerateMissing() error = %v, want context.Canceled", err)
	}
	if stats.Generated != 2 {
		t.Errorf("Generated = %d, want 2", stats.Generated)
	}

	n, err := f.store.Embeddings.Count(context.Background(), cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("committed entries = %d, want 2", n)
	}
}

func TestEmbedAllFailsRunWhenNothingEmbeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.FailWhen = func(string) bool { return true }
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	f.addSegments(t, run.ID, conv, topicText("garden", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	stats, err := cache.EmbedAll(ctx, f.tracker)
	if !errors.Is(err, ErrAllUnitsFailed) {
		t.Fatalf("EmbedAll() error = %v, want ErrAllUnitsFailed", err)
	}

	embedRun, err := f.store.Runs.Get(ctx, stats.RunID)
	if err != nil {
		t.Fatalf("Runs.Get() error = %v", err)
	}
	if embedRun.Status != models.RunFailed {
		t.Errorf("run Status = %v, want Failed", embedRun.Status)
	}
}

func TestGeneratedEntriesRecordTheirRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	if _, err := cache.GetOrGenerate(ctx, nil, ids[0]); !errors.Is(err, ErrNoRun) {
		t.Errorf("GetOrGenerate(nil run) error = %v, want ErrNoRun", err)
	}
	if _, err := cache.GenerateMissing(ctx, nil); !errors.Is(err, ErrNoRun) {
		t.Errorf("GenerateMissing(nil run) error = %v, want ErrNoRun", err)
	}

	embedRun := f.startRun(t, models.RunEmbedding)
	if _, err := cache.GetOrGenerate(ctx, embedRun, ids[0]); err != nil {
		t.Fatalf("GetOrGenerate() error = %v", err)
	}

	entry, err := f.store.Embeddings.Get(ctx, ids[0], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}
	if entry == nil {
		t.Fatal("no cache entry stored")
	}
	if entry.RunID != embedRun.ID {
		t.Errorf("RunID = %q, want %q", entry.RunID, embedRun.ID)
	}
}

func TestEmbedSegmentOpensRunOnlyOnMiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	first, err := cache.EmbedSegment(ctx, f.tracker, ids[0])
	if err != nil {
		t.Fatalf("EmbedSegment() error = %v", err)
	}
	if first.Cached {
		t.Error("first EmbedSegment() reported a cache hit")
	}
	if first.RunID == "" {
		t.Fatal("first EmbedSegment() opened no run")
	}
	if len(first.Vector) != 64 {
		t.Errorf("len(Vector) = %d, want 64", len(first.Vector))
	}

	embedRun, err := f.store.Runs.Get(ctx, first.RunID)
	if err != nil {
		t.Fatalf("Runs.Get() error = %v", err)
	}
	if embedRun.Status != models.RunCompleted {
		t.Errorf("run Status = %v, want Completed", embedRun.Status)
	}
	if embedRun.Scope != "segment:"+ids[0] {
		t.Errorf("run Scope = %q, want segment:%s", embedRun.Scope, ids[0])
	}

	entry, err := f.store.Embeddings.Get(ctx, ids[0], cache.Model())
	if err != nil {
		t.Fatalf("Embeddings.Get() error = %v", err)
	}
	if entry.RunID != first.RunID {
		t.Errorf("entry RunID = %q, want %q", entry.RunID, first.RunID)
	}

	second, err := cache.EmbedSegment(ctx, f.tracker, ids[0])
	if err != nil {
		t.Fatalf("second EmbedSegment() error = %v", err)
	}
	if !second.Cached {
		t.Error("second EmbedSegment() missed the cache")
	}
	if second.RunID != "" {
		t.Errorf("cache hit opened run %s", second.RunID)
	}
	if !reflect.DeepEqual(first.Vector, second.Vector) {
		t.Error("cached vector differs from the generated one")
	}
}

func TestEmbedSegmentFailsRunWhenProviderFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.FailWhen = func(string) bool { return true }
	run := f.startRun(t, models.RunSegmentation)
	conv := f.addTopicConversation(t, "garden", 4, time.Now())
	ids := f.addSegments(t, run.ID, conv, topicText("garden", 0, 8))

	cache := NewEmbeddingCache(f.store, f.provider, EmbeddingCacheOptions{})
	res, err := cache.EmbedSegment(ctx, f.tracker, ids[0])
	if !errors.Is(err, ErrAllUnitsFailed) {
		t.Fatalf("EmbedSegment() error = %v, want ErrAllUnitsFailed", err)
	}

	embedRun, err := f.store.Runs.Get(ctx, res.RunID)
	if err != nil {
		t.Fatalf("Runs.Get() error = %v", err)
	}
	if embedRun.Status != models.RunFailed {
		t.Errorf("run Status = %v, want Failed", embedRun.Status)
	}
}
