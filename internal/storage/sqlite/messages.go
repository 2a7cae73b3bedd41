// ABOUTME: Message storage operations for SQLite
// ABOUTME: (conversation, role, sequence, content hash) is the idempotency boundary
package sqlite

import (
	"context"
	"database/sql"

	"github.com/harper/chatlake/internal/models"
)

// MessageStore handles message persistence
type MessageStore struct {
	q Querier
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(q Querier) *MessageStore {
	return &MessageStore{q: q}
}

// InsertIfAbsent stores a message unless an identical one exists. It reports
// whether a row was written; false is the normal outcome of a re-import.
func (s *MessageStore) InsertIfAbsent(ctx context.Context, m *models.Message) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, sequence_index, content, content_hash, timestamp, artifact_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, role, sequence_index, content_hash) DO NOTHING
	`, m.ID, m.ConversationID, m.Role, m.SequenceIndex, m.Content, m.ContentHash,
		nullTime(m.Timestamp), nullString(m.ArtifactID))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ListByConversation returns a conversation's messages in sequence order
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, conversation_id, role, sequence_index, content, content_hash, timestamp, artifact_id
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence_index, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []models.Message
	for rows.Next() {
		var (
			m          models.Message
			ts         sql.NullTime
			artifactID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.SequenceIndex, &m.Content,
			&m.ContentHash, &ts, &artifactID); err != nil {
			return nil, err
		}
		m.Timestamp = timePtr(ts)
		m.ArtifactID = artifactID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Count returns the number of messages
func (s *MessageStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
