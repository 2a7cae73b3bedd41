// ABOUTME: Conversation segment storage operations for SQLite
// ABOUTME: Segments are insert-if-absent per (conversation, index) and reset wholesale
package sqlite

import (
	"context"
	"database/sql"

	"github.com/harper/chatlake/internal/models"
)

// SegmentStore handles segment persistence
type SegmentStore struct {
	q Querier
}

// NewSegmentStore creates a new SegmentStore
func NewSegmentStore(q Querier) *SegmentStore {
	return &SegmentStore{q: q}
}

// InsertIfAbsent stores a segment unless (conversation, index) already exists
func (s *SegmentStore) InsertIfAbsent(ctx context.Context, seg *models.ConversationSegment) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO conversation_segments (id, conversation_id, segment_index, start_message, end_message,
			message_count, content, content_hash, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, segment_index) DO NOTHING
	`, seg.ID, seg.ConversationID, seg.SegmentIndex, seg.StartMessage, seg.EndMessage,
		seg.MessageCount, seg.Content, seg.ContentHash, seg.RunID, seg.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	return affected(res)
}

const segmentColumns = `id, conversation_id, segment_index, start_message, end_message, message_count,
	content, content_hash, run_id, created_at`

func scanSegment(row rowScanner) (*models.ConversationSegment, error) {
	var seg models.ConversationSegment
	err := row.Scan(&seg.ID, &seg.ConversationID, &seg.SegmentIndex, &seg.StartMessage, &seg.EndMessage,
		&seg.MessageCount, &seg.Content, &seg.ContentHash, &seg.RunID, &seg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

// Get retrieves a segment by ID, or nil if it does not exist
func (s *SegmentStore) Get(ctx context.Context, id string) (*models.ConversationSegment, error) {
	seg, err := scanSegment(s.q.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM conversation_segments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return seg, err
}

// ListByConversation returns a conversation's segments in index order
func (s *SegmentStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.ConversationSegment, error) {
	return s.list(ctx, `SELECT `+segmentColumns+` FROM conversation_segments
		WHERE conversation_id = ? ORDER BY segment_index`, conversationID)
}

// ListAll returns every segment ordered by id
func (s *SegmentStore) ListAll(ctx context.Context) ([]*models.ConversationSegment, error) {
	return s.list(ctx, `SELECT `+segmentColumns+` FROM conversation_segments ORDER BY id`)
}

func (s *SegmentStore) list(ctx context.Context, query string, args ...interface{}) ([]*models.ConversationSegment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var segments []*models.ConversationSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// CountByConversation returns how many segments a conversation has
func (s *SegmentStore) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_segments WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// Count returns the number of segments
func (s *SegmentStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_segments`).Scan(&n)
	return n, err
}

// DeleteAll removes every segment; cached embeddings cascade
func (s *SegmentStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM conversation_segments`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceContent rewrites a segment's text and hash in place. It exists for
// out-of-band regeneration and repair tooling; cached embeddings become stale.
func (s *SegmentStore) ReplaceContent(ctx context.Context, id, content, contentHash string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE conversation_segments SET content = ?, content_hash = ? WHERE id = ?
	`, content, contentHash, id)
	return err
}
