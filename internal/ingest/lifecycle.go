// ABOUTME: Cleanup boundary for import batches
// ABOUTME: Finds stale Processing batches and purges uncommitted ones with their exclusive data
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

// PurgeResult summarises what a purge removed
type PurgeResult struct {
	BatchID              string `json:"batch_id"`
	ConversationsDeleted int64  `json:"conversations_deleted"`
	ArtifactsDeleted     int    `json:"artifacts_deleted"`
	FilesRemoved         int    `json:"files_removed"`
}

// BatchReport is a batch with its recorded failures
type BatchReport struct {
	Batch    *models.ImportBatch      `json:"batch"`
	Failures []models.ArtifactFailure `json:"failures"`
	Stale    bool                     `json:"stale"`
}

// Status returns a batch and its failures
func (e *Engine) Status(ctx context.Context, batchID string) (*BatchReport, error) {
	batch, err := e.store.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %s", models.ErrNotFound, batchID)
	}
	failures, err := e.store.Artifacts.ListFailures(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchReport{
		Batch:    batch,
		Failures: failures,
		Stale:    batch.IsStale(time.Now().UTC(), e.opts.StaleAfter),
	}, nil
}

// List returns recent batches, optionally filtered by status
func (e *Engine) List(ctx context.Context, status models.BatchStatus, limit int) ([]*models.ImportBatch, error) {
	return e.store.Batches.List(ctx, status, limit)
}

// ListStale returns Processing batches with no heartbeat inside the stale window
func (e *Engine) ListStale(ctx context.Context) ([]*models.ImportBatch, error) {
	return e.store.Batches.ListStale(ctx, time.Now().UTC(), e.opts.StaleAfter)
}

// Purge removes an uncommitted batch, its artifacts, failures, and the
// conversations only it produced. Committed batches are refused, and so are
// Processing batches that are still heartbeating.
func (e *Engine) Purge(ctx context.Context, batchID string) (*PurgeResult, error) {
	batch, err := e.store.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %s", models.ErrNotFound, batchID)
	}
	if batch.Status == models.BatchCommitted {
		return nil, fmt.Errorf("%w: %s", models.ErrCommittedBatch, batchID)
	}
	if batch.Status == models.BatchProcessing && !batch.IsStale(time.Now().UTC(), e.opts.StaleAfter) {
		return nil, fmt.Errorf("%w: batch %s is still processing", models.ErrInvalidTransition, batchID)
	}

	artifacts, err := e.store.Artifacts.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &PurgeResult{BatchID: batchID, ArtifactsDeleted: len(artifacts)}
	err = e.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		n, err := tx.Conversations.DeleteExclusiveToBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		result.ConversationsDeleted = n
		return tx.Batches.Delete(ctx, batchID)
	})
	if err != nil {
		return nil, err
	}

	// files are content-addressed and may still back another batch's artifacts
	seen := make(map[string]bool)
	for _, a := range artifacts {
		if !a.IsFileBacked() || seen[a.FilePath] {
			continue
		}
		seen[a.FilePath] = true
		others, err := e.store.Artifacts.CountByFilePath(ctx, a.FilePath, batchID)
		if err != nil {
			return result, err
		}
		if others > 0 {
			continue
		}
		if err := e.raw.Remove(a.FilePath); err != nil {
			e.logger.Warn("failed to remove artifact file", "path", a.FilePath, "error", err)
			continue
		}
		result.FilesRemoved++
	}

	e.logger.Info("batch purged", "batch_id", batchID,
		"conversations_deleted", result.ConversationsDeleted, "files_removed", result.FilesRemoved)
	return result, nil
}
