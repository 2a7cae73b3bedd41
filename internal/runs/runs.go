// ABOUTME: Unit-of-work tracker for derived computations
// ABOUTME: Every engine invocation opens one InferenceRun and closes it Completed or Failed exactly once
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
)

// Spec describes a run about to start. Config is serialised to canonical
// JSON and hashed to form the reproducibility key.
type Spec struct {
	Type         models.RunType
	Model        string
	ModelVersion string
	Scope        string
	Config       any
}

// Tracker opens runs against the run store
type Tracker struct {
	store   *sqlite.RunStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewTracker creates a Tracker. logger and m may be nil.
func NewTracker(store *sqlite.RunStore, logger *logging.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{store: store, logger: logger, metrics: m}
}

// Run is an open InferenceRun
type Run struct {
	*models.InferenceRun

	tracker *Tracker
	mu      sync.Mutex
	done    bool
}

// ConfigHash returns the hex digest of cfg's canonical JSON and the JSON itself.
// encoding/json sorts map keys, so equal configs always hash equal.
func ConfigHash(cfg any) (string, string, error) {
	if cfg == nil {
		return util.HashString("null"), "", nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", "", fmt.Errorf("marshal run config: %w", err)
	}
	return util.HashBytes(data), string(data), nil
}

// Start records a new Running run
func (t *Tracker) Start(ctx context.Context, spec Spec) (*Run, error) {
	hash, cfgJSON, err := ConfigHash(spec.Config)
	if err != nil {
		return nil, err
	}

	r := &models.InferenceRun{
		ID:           uuid.New().String(),
		Type:         spec.Type,
		Model:        spec.Model,
		ModelVersion: spec.ModelVersion,
		Scope:        spec.Scope,
		ConfigHash:   hash,
		Config:       cfgJSON,
		Status:       models.RunRunning,
		StartedAt:    time.Now().UTC(),
	}
	if err := t.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to start %s run: %w", spec.Type, err)
	}

	t.logger.Info("run started", "run_id", r.ID, "type", r.Type, "config_hash", r.ConfigHash[:12])
	return &Run{InferenceRun: r, tracker: t}, nil
}

// Complete closes the run successfully with its metrics
func (r *Run) Complete(ctx context.Context, runMetrics map[string]interface{}) error {
	return r.finish(ctx, models.RunCompleted, runMetrics, "")
}

// Fail closes the run with err's message. Failing a finished run is a no-op.
func (r *Run) Fail(ctx context.Context, err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return r.finish(ctx, models.RunFailed, nil, msg)
}

// Finished reports whether Complete or Fail already ran
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Run) finish(ctx context.Context, status models.RunStatus, runMetrics map[string]interface{}, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		if status == models.RunFailed {
			return nil
		}
		return fmt.Errorf("%w: run %s already finished as %s", models.ErrInvalidTransition, r.ID, r.Status)
	}

	// the closing write must land even if the work's context was cancelled
	writeCtx := context.WithoutCancel(ctx)
	if err := r.tracker.store.Finish(writeCtx, r.ID, status, runMetrics, errMsg); err != nil {
		return err
	}

	at := time.Now().UTC()
	r.done = true
	r.Status = status
	r.CompletedAt = &at
	r.Metrics = runMetrics
	r.ErrorMessage = errMsg

	elapsed := at.Sub(r.StartedAt)
	r.tracker.metrics.ObserveRun(string(r.Type), string(status), elapsed)
	if status == models.RunFailed {
		r.tracker.logger.Warn("run failed", "run_id", r.ID, "type", r.Type, "error", errMsg, "elapsed", elapsed)
	} else {
		r.tracker.logger.Info("run completed", "run_id", r.ID, "type", r.Type, "elapsed", elapsed)
	}
	return nil
}
