// ABOUTME: Project and project assignment storage operations for SQLite
// ABOUTME: At most one current assignment exists per (project, conversation)
package sqlite

import (
	"context"
	"database/sql"

	"github.com/harper/chatlake/internal/models"
)

// ProjectStore handles project persistence
type ProjectStore struct {
	q Querier
}

// NewProjectStore creates a new ProjectStore
func NewProjectStore(q Querier) *ProjectStore {
	return &ProjectStore{q: q}
}

// Create inserts a project
func (s *ProjectStore) Create(ctx context.Context, p *models.Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, name, project_key, description, created_by_run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Key, nullString(p.Description), nullString(p.CreatedByRunID), p.CreatedAt.UTC())
	return err
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		p           models.Project
		description sql.NullString
		runID       sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Key, &description, &runID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.CreatedByRunID = runID.String
	return &p, nil
}

// Get retrieves a project by ID, or nil if it does not exist
func (s *ProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx, `
		SELECT id, name, project_key, description, created_by_run_id, created_at FROM projects WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// List returns all projects by name
func (s *ProjectStore) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, project_key, description, created_by_run_id, created_at FROM projects ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Count returns the number of projects
func (s *ProjectStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}

// Assign makes a the current assignment of its conversation to its project,
// deactivating any prior current assignment for the same pair.
func (s *ProjectStore) Assign(ctx context.Context, a *models.ProjectAssignment) error {
	if _, err := s.q.ExecContext(ctx, `
		UPDATE project_conversations SET is_current = 0
		WHERE project_id = ? AND conversation_id = ? AND is_current = 1
	`, a.ProjectID, a.ConversationID); err != nil {
		return err
	}

	a.IsCurrent = true
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO project_conversations (id, project_id, conversation_id, suggestion_id, run_id, confidence, is_current, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.ConversationID, nullString(a.SuggestionID), nullString(a.RunID),
		a.Confidence, boolInt(a.IsCurrent), a.AssignedAt.UTC())
	return err
}

// ListAssignments returns a project's assignments; currentOnly drops superseded rows
func (s *ProjectStore) ListAssignments(ctx context.Context, projectID string, currentOnly bool) ([]models.ProjectAssignment, error) {
	query := `
		SELECT id, project_id, conversation_id, suggestion_id, run_id, confidence, is_current, assigned_at
		FROM project_conversations WHERE project_id = ?`
	if currentOnly {
		query += ` AND is_current = 1`
	}
	query += ` ORDER BY conversation_id, assigned_at`

	rows, err := s.q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assignments []models.ProjectAssignment
	for rows.Next() {
		var (
			a            models.ProjectAssignment
			suggestionID sql.NullString
			runID        sql.NullString
			current      int
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ConversationID, &suggestionID, &runID,
			&a.Confidence, &current, &a.AssignedAt); err != nil {
			return nil, err
		}
		a.SuggestionID = suggestionID.String
		a.RunID = runID.String
		a.IsCurrent = current == 1
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
