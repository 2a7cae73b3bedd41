// ABOUTME: Segment embedding cache storage operations for SQLite
// ABOUTME: Vectors are BLOBs keyed by (segment, model) and validated by source content hash
package sqlite

import (
	"context"
	"database/sql"

	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/vecmath"
)

// EmbeddingStore handles embedding cache persistence
type EmbeddingStore struct {
	q Querier
}

// NewEmbeddingStore creates a new EmbeddingStore
func NewEmbeddingStore(q Querier) *EmbeddingStore {
	return &EmbeddingStore{q: q}
}

// SegmentVector is a valid cached vector with its owning conversation
type SegmentVector struct {
	SegmentID      string
	ConversationID string
	Vector         []float64
}

// Get retrieves the cached entry for a segment under a model, or nil
func (s *EmbeddingStore) Get(ctx context.Context, segmentID, model string) (*models.SegmentEmbedding, error) {
	var (
		e     models.SegmentEmbedding
		blob  []byte
		runID sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, segment_id, model, dimensions, vector, source_hash, run_id, created_at
		FROM segment_embeddings
		WHERE segment_id = ? AND model = ?
	`, segmentID, model).Scan(&e.ID, &e.SegmentID, &e.Model, &e.Dimensions, &blob, &e.SourceHash, &runID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Vector = vecmath.Decode(blob)
	e.RunID = runID.String
	return &e, nil
}

// InsertIfAbsent stores a vector unless the (segment, model) slot is taken.
// A live entry is never overwritten; stale entries must be deleted first.
func (s *EmbeddingStore) InsertIfAbsent(ctx context.Context, e *models.SegmentEmbedding) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO segment_embeddings (id, segment_id, model, dimensions, vector, source_hash, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id, model) DO NOTHING
	`, e.ID, e.SegmentID, e.Model, len(e.Vector), vecmath.Encode(e.Vector), e.SourceHash,
		nullString(e.RunID), e.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteIfStale removes the entry for (segment, model) when its source hash
// differs from currentHash. It reports whether an entry was removed.
func (s *EmbeddingStore) DeleteIfStale(ctx context.Context, segmentID, model, currentHash string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM segment_embeddings WHERE segment_id = ? AND model = ? AND source_hash != ?
	`, segmentID, model, currentHash)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteStale removes every entry under model whose source hash no longer
// matches its segment's content hash
func (s *EmbeddingStore) DeleteStale(ctx context.Context, model string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM segment_embeddings
		WHERE model = ?
		AND source_hash != (
			SELECT s.content_hash FROM conversation_segments s WHERE s.id = segment_embeddings.segment_id
		)
	`, model)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMissing returns segments lacking a valid vector under model, ordered by id
func (s *EmbeddingStore) ListMissing(ctx context.Context, model string) ([]*models.ConversationSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT s.id, s.conversation_id, s.segment_index, s.start_message, s.end_message, s.message_count,
			s.content, s.content_hash, s.run_id, s.created_at
		FROM conversation_segments s
		LEFT JOIN segment_embeddings e ON e.segment_id = s.id AND e.model = ?
		WHERE e.id IS NULL OR e.source_hash != s.content_hash
		ORDER BY s.id
	`, model)
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

// ListValid returns every valid vector under model ordered by segment id.
// The ordering is part of the clustering reproducibility contract.
func (s *EmbeddingStore) ListValid(ctx context.Context, model string) ([]SegmentVector, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT s.id, s.conversation_id, e.vector
		FROM segment_embeddings e
		JOIN conversation_segments s ON s.id = e.segment_id
		WHERE e.model = ? AND e.source_hash = s.content_hash
		ORDER BY s.id
	`, model)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var vectors []SegmentVector
	for rows.Next() {
		var (
			sv   SegmentVector
			blob []byte
		)
		if err := rows.Scan(&sv.SegmentID, &sv.ConversationID, &blob); err != nil {
			return nil, err
		}
		sv.Vector = vecmath.Decode(blob)
		vectors = append(vectors, sv)
	}
	return vectors, rows.Err()
}

// Count returns the number of cached entries under model
func (s *EmbeddingStore) Count(ctx context.Context, model string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM segment_embeddings WHERE model = ?`, model).Scan(&n)
	return n, err
}
