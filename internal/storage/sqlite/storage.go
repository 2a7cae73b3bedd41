// ABOUTME: Unified Storage layer that wraps all SQLite stores
// ABOUTME: WithTx rebinds every store to one transaction for a logical unit of work
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Storage groups every table store over one database
type Storage struct {
	db   *DB
	q    Querier
	inTx bool

	Batches       *BatchStore
	Artifacts     *ArtifactStore
	Conversations *ConversationStore
	Messages      *MessageStore
	Runs          *RunStore
	Segments      *SegmentStore
	Embeddings    *EmbeddingStore
	Suggestions   *SuggestionStore
	Projects      *ProjectStore
	Similarities  *SimilarityStore
	Drift         *DriftStore
}

func bind(db *DB, q Querier, inTx bool) *Storage {
	return &Storage{
		db:            db,
		q:             q,
		inTx:          inTx,
		Batches:       NewBatchStore(q),
		Artifacts:     NewArtifactStore(q),
		Conversations: NewConversationStore(q),
		Messages:      NewMessageStore(q),
		Runs:          NewRunStore(q),
		Segments:      NewSegmentStore(q),
		Embeddings:    NewEmbeddingStore(q),
		Suggestions:   NewSuggestionStore(q),
		Projects:      NewProjectStore(q),
		Similarities:  NewSimilarityStore(q),
		Drift:         NewDriftStore(q),
	}
}

// NewStorage opens (or creates) the database at dbPath
func NewStorage(dbPath string) (*Storage, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return bind(db, db.conn, false), nil
}

// NewStorageInMemory creates an in-memory storage (for testing)
func NewStorageInMemory() (*Storage, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return bind(db, db.conn, false), nil
}

// WithTx runs fn with a Storage whose stores all share one transaction.
// Calling WithTx on a transactional Storage reuses the open transaction.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(bind(s.db, tx, true))
	})
}

// DB returns the underlying database handle
func (s *Storage) DB() *DB {
	return s.db
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}
