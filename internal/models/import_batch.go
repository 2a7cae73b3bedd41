// ABOUTME: ImportBatch tracks one import execution through its lifecycle
// ABOUTME: Staged -> Processing -> Committed | Failed, with heartbeat-based staleness
package models

import (
	"fmt"
	"time"
)

// BatchStatus is the lifecycle state of an ImportBatch
type BatchStatus string

const (
	BatchStaged     BatchStatus = "Staged"
	BatchProcessing BatchStatus = "Processing"
	BatchCommitted  BatchStatus = "Committed"
	BatchFailed     BatchStatus = "Failed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStaged:     {BatchProcessing, BatchFailed},
	BatchProcessing: {BatchCommitted, BatchFailed},
}

// ImportBatch is one import execution
type ImportBatch struct {
	ID          string      `json:"id" yaml:"id"`
	SourceLabel string      `json:"source_label" yaml:"source_label"`
	Status      BatchStatus `json:"status" yaml:"status"`
	StartedAt   time.Time   `json:"started_at" yaml:"started_at"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty" yaml:"heartbeat_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	// Progress counters. Items are bytes of artifact content.
	ProcessedItems int64 `json:"processed_items" yaml:"processed_items"`
	TotalItems     int64 `json:"total_items" yaml:"total_items"`

	ConversationsSeen    int64 `json:"conversations_seen" yaml:"conversations_seen"`
	ConversationsCreated int64 `json:"conversations_created" yaml:"conversations_created"`
	MessagesInserted     int64 `json:"messages_inserted" yaml:"messages_inserted"`
	ArtifactFailures     int64 `json:"artifact_failures" yaml:"artifact_failures"`

	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if from -> to is not allowed.
func CheckTransition(from, to BatchStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: batch %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCommitted || s == BatchFailed
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStaged, BatchProcessing, BatchCommitted, BatchFailed:
		return true
	}
	return false
}

// IsStale reports whether a Processing batch has not sent a heartbeat within window.
// A batch that never sent one is judged by its start time.
func (b *ImportBatch) IsStale(now time.Time, window time.Duration) bool {
	if b.Status != BatchProcessing {
		return false
	}
	last := b.StartedAt
	if b.HeartbeatAt != nil {
		last = *b.HeartbeatAt
	}
	return now.Sub(last) > window
}

// Progress returns processed/total in [0,1], or 0 when the total is unknown.
func (b *ImportBatch) Progress() float64 {
	if b.TotalItems <= 0 {
		return 0
	}
	p := float64(b.ProcessedItems) / float64(b.TotalItems)
	if p > 1 {
		return 1
	}
	return p
}
