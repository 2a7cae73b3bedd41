// ABOUTME: Conversation similarity edge storage operations for SQLite
// ABOUTME: Edges are unique per (run, A, B) and stored with A < B
package sqlite

import (
	"context"
	"fmt"

	"github.com/harper/chatlake/internal/models"
)

// SimilarityStore handles similarity edge persistence
type SimilarityStore struct {
	q Querier
}

// NewSimilarityStore creates a new SimilarityStore
func NewSimilarityStore(q Querier) *SimilarityStore {
	return &SimilarityStore{q: q}
}

// InsertIfAbsent stores an edge unless the run already holds the pair.
// The pair is order-normalized before writing.
func (s *SimilarityStore) InsertIfAbsent(ctx context.Context, e *models.ConversationSimilarity) (bool, error) {
	a, b := models.OrderPair(e.ConversationA, e.ConversationB)
	if a == b {
		return false, fmt.Errorf("self-similarity edge for %s", a)
	}
	e.ConversationA, e.ConversationB = a, b

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO conversation_similarities (id, run_id, conversation_a, conversation_b, score, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, conversation_a, conversation_b) DO NOTHING
	`, e.ID, e.RunID, e.ConversationA, e.ConversationB, e.Score, e.Method, e.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ListByRun returns a run's edges, strongest first
func (s *SimilarityStore) ListByRun(ctx context.Context, runID string) ([]models.ConversationSimilarity, error) {
	return s.list(ctx, `
		SELECT id, run_id, conversation_a, conversation_b, score, method, created_at
		FROM conversation_similarities WHERE run_id = ?
		ORDER BY score DESC, conversation_a, conversation_b
	`, runID)
}

// ListForConversation returns a conversation's edges within a run, strongest first
func (s *SimilarityStore) ListForConversation(ctx context.Context, runID, conversationID string, limit int) ([]models.ConversationSimilarity, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.list(ctx, `
		SELECT id, run_id, conversation_a, conversation_b, score, method, created_at
		FROM conversation_similarities
		WHERE run_id = ? AND (conversation_a = ? OR conversation_b = ?)
		ORDER BY score DESC, conversation_a, conversation_b
		LIMIT ?
	`, runID, conversationID, conversationID, limit)
}

func (s *SimilarityStore) list(ctx context.Context, query string, args ...interface{}) ([]models.ConversationSimilarity, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edges []models.ConversationSimilarity
	for rows.Next() {
		var e models.ConversationSimilarity
		if err := rows.Scan(&e.ID, &e.RunID, &e.ConversationA, &e.ConversationB, &e.Score, &e.Method, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
