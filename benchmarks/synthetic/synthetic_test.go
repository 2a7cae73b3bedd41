// ABOUTME: Tests for the synthetic generator, benchmark checks, and runner
// ABOUTME: The runner test drives a small export through every phase with the fake provider

package synthetic

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/exportfmt"
	"github.com/harper/chatlake/internal/models"
)

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	a, err := Generate(cfg)
	require.NoError(t, err)
	b, err := Generate(cfg)
	require.NoError(t, err)

	require.Len(t, a, cfg.Topics*cfg.ConversationsPerTopic)
	assert.Equal(t, a, b)

	cfg.Seed++
	c, err := Generate(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Messages[0].Content, c[0].Messages[0].Content)
}

func TestGenerateShape(t *testing.T) {
	cfg := GeneratorConfig{Topics: 2, ConversationsPerTopic: 3, MessagesPerConversation: 4, Seed: 1}
	convs, err := Generate(cfg)
	require.NoError(t, err)
	require.Len(t, convs, 6)

	seen := map[string]bool{}
	for _, c := range convs {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.Contains(t, []string{"garden", "golang"}, TopicOf(c.ID))
		require.Len(t, c.Messages, 4)
		assert.Equal(t, "user", c.Messages[0].Role)
		assert.Equal(t, "assistant", c.Messages[1].Role)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, convs))
	parsed := 0
	for entry, err := range exportfmt.Stream(context.Background(), &buf, exportfmt.FormatChatlake) {
		require.NoError(t, err)
		require.NoError(t, entry.Err)
		parsed++
	}
	assert.Equal(t, 6, parsed)
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	_, err := Generate(GeneratorConfig{Topics: 0, ConversationsPerTopic: 1, MessagesPerConversation: 2})
	assert.Error(t, err)
	_, err = Generate(GeneratorConfig{Topics: len(Topics) + 1, ConversationsPerTopic: 1, MessagesPerConversation: 2})
	assert.Error(t, err)
	_, err = Generate(GeneratorConfig{Topics: 1, ConversationsPerTopic: 1, MessagesPerConversation: 1})
	assert.Error(t, err)
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "garden", TopicOf("garden-12"))
	assert.Equal(t, "plain", TopicOf("plain"))
}

func TestPurity(t *testing.T) {
	topicOf := map[string]string{"a": "garden", "b": "garden", "c": "golang", "d": "golang"}
	suggestions := []*models.ProjectSuggestion{
		{ConversationIDs: []string{"a", "b", "c"}},
		{ConversationIDs: []string{"d"}},
	}
	assert.InDelta(t, 0.75, Purity(suggestions, topicOf), 1e-9)
	assert.Zero(t, Purity(nil, topicOf))

	assert.False(t, CheckPurity(suggestions, topicOf, 0.8).Passed)
	assert.True(t, CheckPurity(suggestions, topicOf, 0.7).Passed)
	assert.False(t, CheckPurity(nil, topicOf, 0).Passed)
}

func TestCheckReproducible(t *testing.T) {
	sg := func(conf float64, segs ...string) *models.ProjectSuggestion {
		return &models.ProjectSuggestion{Key: "garden", Confidence: conf, SegmentIDs: segs}
	}
	a := &core.ClusterResult{Suggestions: []*models.ProjectSuggestion{sg(0.8, "s1", "s2")}}

	assert.True(t, CheckReproducible(a, &core.ClusterResult{Suggestions: []*models.ProjectSuggestion{sg(0.8, "s2", "s1")}}).Passed)
	assert.False(t, CheckReproducible(a, &core.ClusterResult{Suggestions: []*models.ProjectSuggestion{sg(0.7, "s1", "s2")}}).Passed)
	assert.False(t, CheckReproducible(a, &core.ClusterResult{Suggestions: []*models.ProjectSuggestion{sg(0.8, "s1")}}).Passed)
	assert.False(t, CheckReproducible(a, &core.ClusterResult{}).Passed)
}

func TestCheckIdempotentImport(t *testing.T) {
	first := &models.ImportBatch{ConversationsCreated: 4, ConversationsSeen: 4, MessagesInserted: 16}
	assert.True(t, CheckIdempotentImport(first, &models.ImportBatch{ConversationsSeen: 4}, 4).Passed)
	assert.False(t, CheckIdempotentImport(first, &models.ImportBatch{ConversationsSeen: 4, MessagesInserted: 1}, 4).Passed)
	assert.False(t, CheckIdempotentImport(first, &models.ImportBatch{ConversationsSeen: 4}, 5).Passed)
}

func TestRunnerIdempotentPhases(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the whole pipeline")
	}
	runner, err := NewRunner(GeneratorConfig{
		Topics:                  3,
		ConversationsPerTopic:   8,
		MessagesPerConversation: 8,
		Seed:                    3,
	}, false, &bytes.Buffer{})
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, report.Conversations)
	assert.Positive(t, report.Segments)
	assert.Equal(t, report.Segments, report.Points)

	byName := map[string]Check{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	for _, name := range []string{"idempotent_import", "idempotent_segmentation", "embedding_cache", "reproducible_clustering"} {
		assert.True(t, byName[name].Passed, "%s: %s", name, byName[name].Detail)
	}
	assert.Contains(t, byName, "cluster_purity")

	phases := map[string]bool{}
	for _, p := range report.Phases {
		phases[p.Phase] = true
	}
	for _, want := range []string{"import_1", "import_2", "segment_1", "segment_2", "embed_1", "embed_2", "cluster_1", "cluster_2", "similarity"} {
		assert.True(t, phases[want], "missing phase %s", want)
	}
}
