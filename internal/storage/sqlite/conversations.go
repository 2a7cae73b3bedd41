// ABOUTME: Conversation and provenance storage operations for SQLite
// ABOUTME: Insert-if-absent by ConversationKey; repeat sightings only touch provenance
package sqlite

import (
	"context"
	"database/sql"

	"github.com/harper/chatlake/internal/models"
)

// ConversationStore handles conversation persistence
type ConversationStore struct {
	q Querier
}

// NewConversationStore creates a new ConversationStore
func NewConversationStore(q Querier) *ConversationStore {
	return &ConversationStore{q: q}
}

// InsertIfAbsent creates the conversation unless its key already exists.
// It returns the id of the stored conversation and whether this call created it.
// On a repeat sighting only last_batch_id moves.
func (s *ConversationStore) InsertIfAbsent(ctx context.Context, c *models.Conversation) (string, bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO conversations (id, conv_key, source_system, external_id, title,
			first_message_at, last_message_at, first_batch_id, last_batch_id, message_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_key) DO NOTHING
	`, c.ID, c.Key, c.SourceSystem, nullString(c.ExternalID), nullString(c.Title),
		nullTime(c.FirstMessageAt), nullTime(c.LastMessageAt), c.FirstBatchID, c.LastBatchID,
		c.MessageCount, c.CreatedAt.UTC())
	if err != nil {
		return "", false, err
	}
	inserted, err := affected(res)
	if err != nil {
		return "", false, err
	}
	if inserted {
		return c.ID, true, nil
	}

	var id string
	if err := s.q.QueryRowContext(ctx, `SELECT id FROM conversations WHERE conv_key = ?`, c.Key).Scan(&id); err != nil {
		return "", false, err
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE conversations SET last_batch_id = ? WHERE id = ?`, c.LastBatchID, id); err != nil {
		return "", false, err
	}
	return id, false, nil
}

// AddArtifact records a provenance edge; re-adding the same pair is a no-op.
func (s *ConversationStore) AddArtifact(ctx context.Context, conversationID, artifactID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO conversation_artifacts (conversation_id, artifact_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, artifact_id) DO NOTHING
	`, conversationID, artifactID, now())
	if err != nil {
		return false, err
	}
	return affected(res)
}

const conversationColumns = `id, conv_key, source_system, external_id, title, first_message_at,
	last_message_at, first_batch_id, last_batch_id, message_count, created_at`

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c          models.Conversation
		externalID sql.NullString
		title      sql.NullString
		first      sql.NullTime
		last       sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Key, &c.SourceSystem, &externalID, &title, &first, &last,
		&c.FirstBatchID, &c.LastBatchID, &c.MessageCount, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ExternalID = externalID.String
	c.Title = title.String
	c.FirstMessageAt = timePtr(first)
	c.LastMessageAt = timePtr(last)
	return &c, nil
}

// Get retrieves a conversation by ID, or nil if it does not exist
func (s *ConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(s.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetByKey retrieves a conversation by its ConversationKey, or nil
func (s *ConversationStore) GetByKey(ctx context.Context, key string) (*models.Conversation, error) {
	c, err := scanConversation(s.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conv_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// List returns all conversations ordered by id
func (s *ConversationStore) List(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Count returns the number of conversations
func (s *ConversationStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// CountArtifacts returns the number of provenance edges
func (s *ConversationStore) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_artifacts`).Scan(&n)
	return n, err
}

// ListUnsegmented returns ids of conversations with no segments, ordered by id
func (s *ConversationStore) ListUnsegmented(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `
		SELECT c.id FROM conversations c
		WHERE NOT EXISTS (SELECT 1 FROM conversation_segments s WHERE s.conversation_id = c.id)
		ORDER BY c.id
	`)
}

// ListIDsForBatch returns ids of conversations with provenance from a batch
func (s *ConversationStore) ListIDsForBatch(ctx context.Context, batchID string) ([]string, error) {
	return s.ids(ctx, `
		SELECT DISTINCT ca.conversation_id FROM conversation_artifacts ca
		JOIN raw_artifacts a ON a.id = ca.artifact_id
		WHERE a.batch_id = ?
		ORDER BY ca.conversation_id
	`, batchID)
}

// DeleteExclusiveToBatch deletes conversations whose only provenance is the
// given batch. Conversations also seen by another batch survive.
func (s *ConversationStore) DeleteExclusiveToBatch(ctx context.Context, batchID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE id IN (
			SELECT ca.conversation_id FROM conversation_artifacts ca
			JOIN raw_artifacts a ON a.id = ca.artifact_id
			WHERE a.batch_id = ?
		)
		AND NOT EXISTS (
			SELECT 1 FROM conversation_artifacts ca2
			JOIN raw_artifacts a2 ON a2.id = ca2.artifact_id
			WHERE ca2.conversation_id = conversations.id AND a2.batch_id != ?
		)
	`, batchID, batchID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ConversationStore) ids(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
