// ABOUTME: Pass/fail checks for the synthetic benchmark
// ABOUTME: Verifies idempotent phases, reproducible clustering, and topic purity of clusters

package synthetic

import (
	"fmt"
	"math"
	"slices"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/models"
)

// Check is one benchmark assertion
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func pass(name, format string, args ...interface{}) Check {
	return Check{Name: name, Passed: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...interface{}) Check {
	return Check{Name: name, Passed: false, Detail: fmt.Sprintf(format, args...)}
}

// CheckIdempotentImport expects the first batch to create every conversation
// and the re-import to create nothing
func CheckIdempotentImport(first, second *models.ImportBatch, expected int) Check {
	const name = "idempotent_import"
	switch {
	case first.ConversationsCreated != int64(expected):
		return fail(name, "first import created %d conversations, want %d", first.ConversationsCreated, expected)
	case second.ConversationsCreated != 0 || second.MessagesInserted != 0:
		return fail(name, "re-import created %d conversations and %d messages",
			second.ConversationsCreated, second.MessagesInserted)
	case second.ConversationsSeen != int64(expected):
		return fail(name, "re-import saw %d conversations, want %d", second.ConversationsSeen, expected)
	}
	return pass(name, "%d conversations created once, re-import was a no-op", expected)
}

// CheckIdempotentSegmentation expects a second pass to find no work
func CheckIdempotentSegmentation(first, second *core.SegmentStats) Check {
	const name = "idempotent_segmentation"
	if first.Segmented == 0 {
		return fail(name, "first pass segmented nothing")
	}
	if second.Conversations != 0 {
		return fail(name, "second pass revisited %d conversations", second.Conversations)
	}
	return pass(name, "%d segments from %d conversations, second pass idle", first.Segments, first.Segmented)
}

// CheckEmbeddingCache expects the second pass to be served entirely from cache
func CheckEmbeddingCache(first, second *core.EmbedStats) Check {
	const name = "embedding_cache"
	if first.Generated == 0 {
		return fail(name, "first pass generated no vectors")
	}
	if second.Generated != 0 || second.Missing != 0 {
		return fail(name, "second pass generated %d of %d missing vectors", second.Generated, second.Missing)
	}
	return pass(name, "%d vectors generated once and reused", first.Generated)
}

// CheckReproducible compares two clusterings of the same data and config
func CheckReproducible(a, b *core.ClusterResult) Check {
	const name = "reproducible_clustering"
	if len(a.Suggestions) != len(b.Suggestions) {
		return fail(name, "suggestion counts differ: %d vs %d", len(a.Suggestions), len(b.Suggestions))
	}
	for i := range a.Suggestions {
		x, y := a.Suggestions[i], b.Suggestions[i]
		if x.ClusterLabel != y.ClusterLabel || x.Key != y.Key {
			return fail(name, "suggestion %d differs: %s vs %s", i, x.Key, y.Key)
		}
		if !sameMembers(x.SegmentIDs, y.SegmentIDs) {
			return fail(name, "cluster %d has different members", x.ClusterLabel)
		}
		if math.Abs(x.Confidence-y.Confidence) > 1e-9 {
			return fail(name, "cluster %d confidence %.6f vs %.6f", x.ClusterLabel, x.Confidence, y.Confidence)
		}
	}
	return pass(name, "%d clusters identical across runs", len(a.Suggestions))
}

func sameMembers(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// Purity is the share of clustered conversations whose cluster's majority
// topic is their own. topicOf maps conversation IDs to generated topics.
func Purity(suggestions []*models.ProjectSuggestion, topicOf map[string]string) float64 {
	total, majority := 0, 0
	for _, sg := range suggestions {
		counts := map[string]int{}
		best := 0
		for _, convID := range sg.ConversationIDs {
			counts[topicOf[convID]]++
			best = max(best, counts[topicOf[convID]])
		}
		total += len(sg.ConversationIDs)
		majority += best
	}
	if total == 0 {
		return 0
	}
	return float64(majority) / float64(total)
}

// CheckPurity requires at least one cluster and purity of at least minPurity
func CheckPurity(suggestions []*models.ProjectSuggestion, topicOf map[string]string, minPurity float64) Check {
	const name = "cluster_purity"
	if len(suggestions) == 0 {
		return fail(name, "no clusters found")
	}
	p := Purity(suggestions, topicOf)
	if p < minPurity {
		return fail(name, "purity %.2f below %.2f", p, minPurity)
	}
	return pass(name, "purity %.2f across %d clusters", p, len(suggestions))
}
