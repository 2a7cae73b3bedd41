// ABOUTME: Ingestion engine: stages export files, parses them, and writes canonical conversations
// ABOUTME: Drives the import batch lifecycle Staged -> Processing -> Committed | Failed with heartbeats
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/exportfmt"
	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/metrics"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/rawstore"
	"github.com/harper/chatlake/internal/storage/sqlite"
	"github.com/harper/chatlake/internal/util"
)

// ImportFile is one export file to ingest
type ImportFile struct {
	Name   string
	Format string
	Reader io.Reader
}

// ImportRequest groups the files of one batch
type ImportRequest struct {
	Source string
	Files  []ImportFile
}

// Options configures an Engine
type Options struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	Logger            *logging.Logger
	Metrics           *metrics.Metrics
}

// Engine runs imports against one storage
type Engine struct {
	store   *sqlite.Storage
	raw     *rawstore.Store
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an ingestion engine
func NewEngine(store *sqlite.Storage, raw *rawstore.Store, opts Options) *Engine {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{store: store, raw: raw, opts: opts, logger: logger, metrics: opts.Metrics}
}

// progress guards the batch counters shared with the heartbeat goroutine
type progress struct {
	mu    sync.Mutex
	batch models.ImportBatch
}

func (p *progress) update(fn func(b *models.ImportBatch)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.batch)
}

func (p *progress) snapshot() models.ImportBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batch
}

// Import stages every file, then parses and writes them. The returned batch
// reflects the final state even when an error is returned.
func (e *Engine) Import(ctx context.Context, req ImportRequest) (*models.ImportBatch, error) {
	if len(req.Files) == 0 {
		return nil, errors.New("import needs at least one file")
	}
	for _, f := range req.Files {
		if _, err := exportfmt.Lookup(f.Format); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = req.Files[0].Format
	}

	batch := &models.ImportBatch{
		ID:          uuid.New().String(),
		SourceLabel: source,
		Status:      models.BatchStaged,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.Batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	log := e.logger.With("batch_id", batch.ID, "source", source)
	log.Info("batch staged", "files", len(req.Files))

	artifacts := make([]*models.RawArtifact, 0, len(req.Files))
	for _, f := range req.Files {
		a, err := e.raw.Put(ctx, e.store.Artifacts, batch.ID, f.Reader, f.Name, f.Format)
		if err != nil {
			return e.fail(ctx, batch, models.BatchStaged, fmt.Errorf("staging %s: %w", f.Name, err))
		}
		artifacts = append(artifacts, a)
		batch.TotalItems += a.ByteLength
	}
	if err := e.store.Batches.SetTotal(ctx, batch.ID, batch.TotalItems); err != nil {
		return e.fail(ctx, batch, models.BatchStaged, err)
	}

	if err := e.store.Batches.Transition(ctx, batch.ID, models.BatchStaged, models.BatchProcessing, ""); err != nil {
		return batch, err
	}
	batch.Status = models.BatchProcessing

	prog := &progress{batch: *batch}
	stopHeartbeat := e.startHeartbeat(ctx, prog, log)

	succeeded := 0
	var fatal error
	for _, a := range artifacts {
		ok, err := e.processArtifact(ctx, prog, a, log)
		prog.update(func(b *models.ImportBatch) { b.ProcessedItems += a.ByteLength })
		if err != nil {
			fatal = err
			break
		}
		if ok {
			succeeded++
		}
		snap := prog.snapshot()
		if err := e.store.Batches.Heartbeat(ctx, &snap); err != nil {
			fatal = fmt.Errorf("heartbeat: %w", err)
			break
		}
	}
	stopHeartbeat()

	*batch = prog.snapshot()
	if fatal == nil && succeeded == 0 {
		fatal = errors.New("no artifact in the batch could be parsed")
	}
	if fatal != nil {
		return e.fail(ctx, batch, models.BatchProcessing, fatal)
	}

	// final counters land before the commit so a Committed batch is complete
	if err := e.store.Batches.Heartbeat(ctx, batch); err != nil {
		return e.fail(ctx, batch, models.BatchProcessing, err)
	}
	if err := e.store.Batches.Transition(ctx, batch.ID, models.BatchProcessing, models.BatchCommitted, ""); err != nil {
		return batch, err
	}
	batch.Status = models.BatchCommitted
	now := time.Now().UTC()
	batch.CompletedAt = &now

	log.Info("batch committed",
		"conversations_seen", batch.ConversationsSeen,
		"conversations_created", batch.ConversationsCreated,
		"messages_inserted", batch.MessagesInserted,
		"artifact_failures", batch.ArtifactFailures)
	return batch, nil
}

func (e *Engine) fail(ctx context.Context, batch *models.ImportBatch, from models.BatchStatus, cause error) (*models.ImportBatch, error) {
	writeCtx := context.WithoutCancel(ctx)
	if from == models.BatchProcessing {
		_ = e.store.Batches.Heartbeat(writeCtx, batch)
	}
	if err := e.store.Batches.Transition(writeCtx, batch.ID, from, models.BatchFailed, cause.Error()); err != nil {
		e.logger.Error("failed to mark batch failed", "batch_id", batch.ID, "error", err)
	} else {
		batch.Status = models.BatchFailed
		batch.ErrorMessage = cause.Error()
	}
	e.logger.Error("batch failed", "batch_id", batch.ID, "error", cause)
	return batch, cause
}

// startHeartbeat records liveness on a ticker until the returned stop func runs
func (e *Engine) startHeartbeat(ctx context.Context, prog *progress, log *logging.Logger) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				snap := prog.snapshot()
				if err := e.store.Batches.Heartbeat(hbCtx, &snap); err != nil && hbCtx.Err() == nil {
					log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// processArtifact parses one artifact. It reports whether the artifact was
// readable end to end; a non-nil error is fatal for the batch.
func (e *Engine) processArtifact(ctx context.Context, prog *progress, a *models.RawArtifact, log *logging.Logger) (bool, error) {
	log = log.With("artifact_id", a.ID, "artifact", a.Name)

	rc, err := e.raw.Open(ctx, a)
	if err != nil {
		return false, err
	}
	defer func() { _ = rc.Close() }()

	for entry, err := range exportfmt.Stream(ctx, rc, a.DeclaredType) {
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.Warn("artifact unreadable", "error", err)
			if rerr := e.recordFailure(ctx, prog, a, -1, err); rerr != nil {
				return false, rerr
			}
			return false, nil
		}
		if entry.Err != nil {
			log.Debug("skipping malformed entry", "index", entry.Index, "error", entry.Err)
			if rerr := e.recordFailure(ctx, prog, a, entry.Index, entry.Err); rerr != nil {
				return false, rerr
			}
			continue
		}

		created, inserted, err := e.writeConversation(ctx, a.BatchID, a, entry.Conversation)
		if err != nil {
			return false, fmt.Errorf("entry %d of %s: %w", entry.Index, a.Name, err)
		}
		prog.update(func(b *models.ImportBatch) {
			b.ConversationsSeen++
			if created {
				b.ConversationsCreated++
			}
			b.MessagesInserted += int64(inserted)
		})
	}
	return true, nil
}

func (e *Engine) recordFailure(ctx context.Context, prog *progress, a *models.RawArtifact, index int, cause error) error {
	if _, err := e.store.Artifacts.RecordFailure(ctx, a.BatchID, a.ID, index, cause.Error()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	prog.update(func(b *models.ImportBatch) { b.ArtifactFailures++ })
	e.metrics.ArtifactFailure()
	return nil
}

// writeConversation stores one parsed conversation in its own transaction.
// Re-importing identical content creates nothing and inserts no messages.
func (e *Engine) writeConversation(ctx context.Context, batchID string, a *models.RawArtifact, parsed *exportfmt.ParsedConversation) (bool, int, error) {
	turns := parsed.Turns()
	for i := range turns {
		turns[i].Role = models.NormalizeRole(turns[i].Role)
	}
	first, last := parsed.Bounds()

	var (
		created  bool
		inserted int
	)
	err := e.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		convID, isNew, err := tx.Conversations.InsertIfAbsent(ctx, &models.Conversation{
			ID:             uuid.New().String(),
			Key:            models.ConversationKey(turns),
			SourceSystem:   parsed.Source,
			ExternalID:     parsed.ExternalID,
			Title:          parsed.Title,
			FirstMessageAt: first,
			LastMessageAt:  last,
			FirstBatchID:   batchID,
			LastBatchID:    batchID,
			MessageCount:   len(turns),
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("conversation: %w", err)
		}
		created = isNew

		if _, err := tx.Conversations.AddArtifact(ctx, convID, a.ID); err != nil {
			return fmt.Errorf("provenance: %w", err)
		}

		for i, turn := range turns {
			ok, err := tx.Messages.InsertIfAbsent(ctx, &models.Message{
				ID:             uuid.New().String(),
				ConversationID: convID,
				Role:           turn.Role,
				SequenceIndex:  i,
				Content:        turn.Content,
				ContentHash:    util.HashString(turn.Content),
				Timestamp:      parsed.Messages[i].Timestamp,
				ArtifactID:     a.ID,
			})
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	e.metrics.Conversation(created)
	e.metrics.Messages(inserted, len(turns)-inserted)
	return created, inserted, nil
}
