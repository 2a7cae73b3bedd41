// ABOUTME: Project suggestion storage operations for SQLite
// ABOUTME: Resolution is a conditional update so a suggestion leaves Pending exactly once
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harper/chatlake/internal/models"
)

// SuggestionStore handles suggestion persistence
type SuggestionStore struct {
	q Querier
}

// NewSuggestionStore creates a new SuggestionStore
func NewSuggestionStore(q Querier) *SuggestionStore {
	return &SuggestionStore{q: q}
}

// Create inserts a suggestion
func (s *SuggestionStore) Create(ctx context.Context, sg *models.ProjectSuggestion) error {
	convJSON, err := json.Marshal(sg.ConversationIDs)
	if err != nil {
		return err
	}
	segJSON, err := json.Marshal(sg.SegmentIDs)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO project_suggestions (id, run_id, cluster_label, name, suggestion_key, summary, confidence,
			status, conversation_ids, segment_ids, unique_conversations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sg.ID, sg.RunID, sg.ClusterLabel, sg.Name, sg.Key, nullString(sg.Summary), sg.Confidence,
		string(sg.Status), string(convJSON), string(segJSON), sg.UniqueConversations, sg.CreatedAt.UTC())
	return err
}

const suggestionColumns = `id, run_id, cluster_label, name, suggestion_key, summary, confidence, status,
	resolved_project_id, resolved_at, conversation_ids, segment_ids, unique_conversations, created_at`

func scanSuggestion(row rowScanner) (*models.ProjectSuggestion, error) {
	var (
		sg        models.ProjectSuggestion
		summary   sql.NullString
		status    string
		projectID sql.NullString
		resolved  sql.NullTime
		convJSON  string
		segJSON   string
	)
	if err := row.Scan(&sg.ID, &sg.RunID, &sg.ClusterLabel, &sg.Name, &sg.Key, &summary, &sg.Confidence,
		&status, &projectID, &resolved, &convJSON, &segJSON, &sg.UniqueConversations, &sg.CreatedAt); err != nil {
		return nil, err
	}
	sg.Summary = summary.String
	sg.Status = models.SuggestionStatus(status)
	sg.ResolvedProjectID = projectID.String
	sg.ResolvedAt = timePtr(resolved)
	if err := json.Unmarshal([]byte(convJSON), &sg.ConversationIDs); err != nil {
		return nil, fmt.Errorf("decode conversation ids for %s: %w", sg.ID, err)
	}
	if err := json.Unmarshal([]byte(segJSON), &sg.SegmentIDs); err != nil {
		return nil, fmt.Errorf("decode segment ids for %s: %w", sg.ID, err)
	}
	return &sg, nil
}

// Get retrieves a suggestion by ID, or nil if it does not exist
func (s *SuggestionStore) Get(ctx context.Context, id string) (*models.ProjectSuggestion, error) {
	sg, err := scanSuggestion(s.q.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM project_suggestions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sg, err
}

// List returns suggestions filtered by status and/or run, highest confidence first
func (s *SuggestionStore) List(ctx context.Context, status models.SuggestionStatus, runID string) ([]*models.ProjectSuggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM project_suggestions WHERE 1 = 1`
	args := []interface{}{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC, confidence DESC, cluster_label`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var suggestions []*models.ProjectSuggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

// ListByRun returns a run's suggestions ordered by cluster label
func (s *SuggestionStore) ListByRun(ctx context.Context, runID string) ([]*models.ProjectSuggestion, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+suggestionColumns+` FROM project_suggestions
		WHERE run_id = ? ORDER BY cluster_label`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var suggestions []*models.ProjectSuggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

// Resolve moves a Pending suggestion to status. If the suggestion is no
// longer Pending the update matches nothing and ErrSuggestionNotPending is returned.
func (s *SuggestionStore) Resolve(ctx context.Context, id string, status models.SuggestionStatus, projectID string, at time.Time) error {
	if status == models.SuggestionPending || !status.Valid() {
		return fmt.Errorf("%w: suggestion cannot resolve to %s", models.ErrInvalidTransition, status)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE project_suggestions
		SET status = ?, resolved_project_id = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(status), nullString(projectID), at.UTC(), id, string(models.SuggestionPending))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSuggestionNotPending, id)
	}
	return nil
}
