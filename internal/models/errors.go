// ABOUTME: Sentinel errors shared across the pipeline
// ABOUTME: Callers match with errors.Is; stores and engines wrap them with context
package models

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a state machine move is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSuggestionNotPending is returned when acting on an already resolved suggestion
	ErrSuggestionNotPending = errors.New("suggestion is not pending")

	// ErrCommittedBatch is returned when cleanup targets a committed batch
	ErrCommittedBatch = errors.New("batch is committed")

	// ErrNoEmbeddings is returned when clustering has no vectors to work with
	ErrNoEmbeddings = errors.New("no segment embeddings available")

	// ErrNoClusteringRun is returned when drift needs topics but no clustering run has completed
	ErrNoClusteringRun = errors.New("no completed clustering run")

	// ErrUnknownFormat is returned for an unsupported export format
	ErrUnknownFormat = errors.New("unknown export format")
)
