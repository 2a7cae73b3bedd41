// ABOUTME: Import batch storage operations for SQLite
// ABOUTME: Guarded status transitions, heartbeats, and cleanup of uncommitted batches
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harper/chatlake/internal/models"
)

// BatchStore handles import batch persistence
type BatchStore struct {
	q Querier
}

// NewBatchStore creates a new BatchStore
func NewBatchStore(q Querier) *BatchStore {
	return &BatchStore{q: q}
}

// Create inserts a new batch
func (s *BatchStore) Create(ctx context.Context, b *models.ImportBatch) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO import_batches (id, source_label, status, started_at, total_items)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.SourceLabel, string(b.Status), b.StartedAt.UTC(), b.TotalItems)
	return err
}

const batchColumns = `id, source_label, status, started_at, heartbeat_at, completed_at,
	processed_items, total_items, conversations_seen, conversations_created,
	messages_inserted, artifact_failures, error_message`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*models.ImportBatch, error) {
	var (
		b         models.ImportBatch
		status    string
		heartbeat sql.NullTime
		completed sql.NullTime
		errMsg    sql.NullString
	)
	if err := row.Scan(&b.ID, &b.SourceLabel, &status, &b.StartedAt, &heartbeat, &completed,
		&b.ProcessedItems, &b.TotalItems, &b.ConversationsSeen, &b.ConversationsCreated,
		&b.MessagesInserted, &b.ArtifactFailures, &errMsg); err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	b.HeartbeatAt = timePtr(heartbeat)
	b.CompletedAt = timePtr(completed)
	b.ErrorMessage = errMsg.String
	return &b, nil
}

// Get retrieves a batch by ID, or nil if it does not exist
func (s *BatchStore) Get(ctx context.Context, id string) (*models.ImportBatch, error) {
	b, err := scanBatch(s.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// List returns batches newest first, optionally filtered by status
func (s *BatchStore) List(ctx context.Context, status models.BatchStatus, limit int) ([]*models.ImportBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM import_batches`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var batches []*models.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Transition moves a batch from one status to another. The update is
// conditional on the current status so a concurrent writer cannot re-enter
// a state; a lost race or disallowed move returns ErrInvalidTransition.
func (s *BatchStore) Transition(ctx context.Context, id string, from, to models.BatchStatus, errMsg string) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}

	at := now()
	var completed sql.NullTime
	if to.IsTerminal() {
		completed = sql.NullTime{Time: at, Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE import_batches
		SET status = ?, heartbeat_at = ?, completed_at = COALESCE(?, completed_at), error_message = ?
		WHERE id = ? AND status = ?
	`, string(to), at, completed, nullString(errMsg), id, string(from))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: batch %s is not %s", models.ErrInvalidTransition, id, from)
	}
	return nil
}

// Heartbeat records liveness and progress counters for a Processing batch
func (s *BatchStore) Heartbeat(ctx context.Context, b *models.ImportBatch) error {
	at := now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE import_batches
		SET heartbeat_at = ?, processed_items = ?, total_items = ?,
			conversations_seen = ?, conversations_created = ?,
			messages_inserted = ?, artifact_failures = ?
		WHERE id = ? AND status = ?
	`, at, b.ProcessedItems, b.TotalItems, b.ConversationsSeen, b.ConversationsCreated,
		b.MessagesInserted, b.ArtifactFailures, b.ID, string(models.BatchProcessing))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: heartbeat on batch %s that is not processing", models.ErrInvalidTransition, b.ID)
	}
	b.HeartbeatAt = &at
	return nil
}

// SetTotal records the total item count before processing starts
func (s *BatchStore) SetTotal(ctx context.Context, id string, total int64) error {
	_, err := s.q.ExecContext(ctx, `UPDATE import_batches SET total_items = ? WHERE id = ?`, total, id)
	return err
}

// ListStale returns Processing batches whose last heartbeat is older than window
func (s *BatchStore) ListStale(ctx context.Context, at time.Time, window time.Duration) ([]*models.ImportBatch, error) {
	processing, err := s.List(ctx, models.BatchProcessing, 0)
	if err != nil {
		return nil, err
	}
	// compared in Go: stored DATETIME text does not order reliably across precisions
	var stale []*models.ImportBatch
	for _, b := range processing {
		if b.IsStale(at, window) {
			stale = append(stale, b)
		}
	}
	return stale, nil
}

// Delete removes a batch row; artifacts, failures, and provenance edges cascade.
// Committed batches are refused.
func (s *BatchStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM import_batches WHERE id = ? AND status != ?`,
		id, string(models.BatchCommitted))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrCommittedBatch, id)
	}
	return nil
}
