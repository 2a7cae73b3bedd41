// ABOUTME: Project drift metric storage operations for SQLite
// ABOUTME: Topic deltas are stored as JSON alongside the scalar drift score
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harper/chatlake/internal/models"
)

// DriftStore handles drift metric persistence
type DriftStore struct {
	q Querier
}

// NewDriftStore creates a new DriftStore
func NewDriftStore(q Querier) *DriftStore {
	return &DriftStore{q: q}
}

// Insert stores one window's drift metric
func (s *DriftStore) Insert(ctx context.Context, m *models.ProjectDriftMetric) error {
	deltas, err := json.Marshal(m.Deltas)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO project_drift_metrics (id, run_id, project_id, window_start, window_end,
			conversation_count, drift_score, deltas, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.RunID, m.ProjectID, m.WindowStart.UTC(), m.WindowEnd.UTC(),
		m.ConversationCount, m.DriftScore, string(deltas), m.CreatedAt.UTC())
	return err
}

// ListByProject returns a project's metrics, optionally for one run, in window order
func (s *DriftStore) ListByProject(ctx context.Context, projectID, runID string) ([]models.ProjectDriftMetric, error) {
	query := `
		SELECT id, run_id, project_id, window_start, window_end, conversation_count, drift_score, deltas, created_at
		FROM project_drift_metrics WHERE project_id = ?`
	args := []interface{}{projectID}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at, window_start`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var metrics []models.ProjectDriftMetric
	for rows.Next() {
		var (
			m      models.ProjectDriftMetric
			deltas string
		)
		if err := rows.Scan(&m.ID, &m.RunID, &m.ProjectID, &m.WindowStart, &m.WindowEnd,
			&m.ConversationCount, &m.DriftScore, &deltas, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(deltas), &m.Deltas); err != nil {
			return nil, fmt.Errorf("decode deltas for %s: %w", m.ID, err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
