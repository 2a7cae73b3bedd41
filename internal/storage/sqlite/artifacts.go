// ABOUTME: Raw artifact and artifact failure storage operations for SQLite
// ABOUTME: Artifacts are insert-only; failures are recorded per artifact or per entry
package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/harper/chatlake/internal/models"
)

// ArtifactStore handles raw artifact persistence
type ArtifactStore struct {
	q Querier
}

// NewArtifactStore creates a new ArtifactStore
func NewArtifactStore(q Querier) *ArtifactStore {
	return &ArtifactStore{q: q}
}

// Create inserts an artifact row. Artifacts are immutable afterwards.
func (s *ArtifactStore) Create(ctx context.Context, a *models.RawArtifact) error {
	var inline interface{}
	if !a.IsFileBacked() {
		inline = a.Inline
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO raw_artifacts (id, batch_id, name, declared_type, byte_length, content_hash, file_path, inline_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BatchID, a.Name, a.DeclaredType, a.ByteLength, a.ContentHash,
		nullString(a.FilePath), inline, a.CreatedAt.UTC())
	return err
}

const artifactColumns = `id, batch_id, name, declared_type, byte_length, content_hash, file_path, inline_payload, created_at`

func scanArtifact(row rowScanner) (*models.RawArtifact, error) {
	var (
		a        models.RawArtifact
		filePath sql.NullString
		inline   []byte
	)
	if err := row.Scan(&a.ID, &a.BatchID, &a.Name, &a.DeclaredType, &a.ByteLength,
		&a.ContentHash, &filePath, &inline, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.FilePath = filePath.String
	a.Inline = inline
	return &a, nil
}

// Get retrieves an artifact by ID, or nil if it does not exist
func (s *ArtifactStore) Get(ctx context.Context, id string) (*models.RawArtifact, error) {
	a, err := scanArtifact(s.q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM raw_artifacts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListByBatch returns a batch's artifacts in creation order
func (s *ArtifactStore) ListByBatch(ctx context.Context, batchID string) ([]*models.RawArtifact, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM raw_artifacts WHERE batch_id = ? ORDER BY created_at, id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var artifacts []*models.RawArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// CountByFilePath returns how many artifacts outside batchID share a file.
// Content-addressed files may back artifacts of several batches.
func (s *ArtifactStore) CountByFilePath(ctx context.Context, path, excludeBatchID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_artifacts WHERE file_path = ? AND batch_id != ?
	`, path, excludeBatchID).Scan(&n)
	return n, err
}

// RecordFailure stores a parse failure. entryIndex < 0 means the whole artifact failed.
func (s *ArtifactStore) RecordFailure(ctx context.Context, batchID, artifactID string, entryIndex int, message string) (*models.ArtifactFailure, error) {
	f := &models.ArtifactFailure{
		ID:         uuid.New().String(),
		BatchID:    batchID,
		ArtifactID: artifactID,
		EntryIndex: entryIndex,
		Message:    message,
		CreatedAt:  now(),
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO artifact_failures (id, batch_id, artifact_id, entry_index, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.BatchID, f.ArtifactID, f.EntryIndex, f.Message, f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFailures returns the failures recorded for a batch
func (s *ArtifactStore) ListFailures(ctx context.Context, batchID string) ([]models.ArtifactFailure, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, batch_id, artifact_id, entry_index, message, created_at
		FROM artifact_failures WHERE batch_id = ?
		ORDER BY created_at, entry_index
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var failures []models.ArtifactFailure
	for rows.Next() {
		var f models.ArtifactFailure
		if err := rows.Scan(&f.ID, &f.BatchID, &f.ArtifactID, &f.EntryIndex, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
