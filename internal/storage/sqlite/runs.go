// ABOUTME: Inference run storage operations for SQLite
// ABOUTME: Runs move Running -> Completed | Failed exactly once
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/harper/chatlake/internal/models"
)

// RunStore handles inference run persistence
type RunStore struct {
	q Querier
}

// NewRunStore creates a new RunStore
func NewRunStore(q Querier) *RunStore {
	return &RunStore{q: q}
}

// Create inserts a Running run
func (s *RunStore) Create(ctx context.Context, r *models.InferenceRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO inference_runs (id, run_type, model, model_version, scope, config_hash, config, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.Type), nullString(r.Model), nullString(r.ModelVersion), nullString(r.Scope),
		r.ConfigHash, nullString(r.Config), string(r.Status), r.StartedAt.UTC())
	return err
}

// Finish moves a Running run to Completed or Failed with its metrics
func (s *RunStore) Finish(ctx context.Context, id string, status models.RunStatus, metrics map[string]interface{}, errMsg string) error {
	if status != models.RunCompleted && status != models.RunFailed {
		return fmt.Errorf("%w: run cannot finish as %s", models.ErrInvalidTransition, status)
	}

	var metricsJSON sql.NullString
	if len(metrics) > 0 {
		data, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("marshal run metrics: %w", err)
		}
		metricsJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE inference_runs
		SET status = ?, completed_at = ?, metrics = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(status), now(), metricsJSON, nullString(errMsg), id, string(models.RunRunning))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run %s is not running", models.ErrInvalidTransition, id)
	}
	return nil
}

const runColumns = `id, run_type, model, model_version, scope, config_hash, config, status,
	started_at, completed_at, metrics, error_message`

func scanRun(row rowScanner) (*models.InferenceRun, error) {
	var (
		r            models.InferenceRun
		runType      string
		status       string
		model        sql.NullString
		modelVersion sql.NullString
		scope        sql.NullString
		config       sql.NullString
		completed    sql.NullTime
		metrics      sql.NullString
		errMsg       sql.NullString
	)
	if err := row.Scan(&r.ID, &runType, &model, &modelVersion, &scope, &r.ConfigHash, &config,
		&status, &r.StartedAt, &completed, &metrics, &errMsg); err != nil {
		return nil, err
	}
	r.Type = models.RunType(runType)
	r.Status = models.RunStatus(status)
	r.Model = model.String
	r.ModelVersion = modelVersion.String
	r.Scope = scope.String
	r.Config = config.String
	r.CompletedAt = timePtr(completed)
	r.ErrorMessage = errMsg.String
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for run %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// Get retrieves a run by ID, or nil if it does not exist
func (s *RunStore) Get(ctx context.Context, id string) (*models.InferenceRun, error) {
	r, err := scanRun(s.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM inference_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// List returns runs newest first, optionally filtered by type
func (s *RunStore) List(ctx context.Context, runType models.RunType, limit int) ([]*models.InferenceRun, error) {
	query := `SELECT ` + runColumns + ` FROM inference_runs`
	args := []interface{}{}
	if runType != "" {
		query += ` WHERE run_type = ?`
		args = append(args, string(runType))
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.InferenceRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestCompleted returns the most recent Completed run of a type, or nil
func (s *RunStore) LatestCompleted(ctx context.Context, runType models.RunType) (*models.InferenceRun, error) {
	r, err := scanRun(s.q.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM inference_runs
		WHERE run_type = ? AND status = ?
		ORDER BY completed_at DESC, started_at DESC
		LIMIT 1
	`, string(runType), string(models.RunCompleted)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}
