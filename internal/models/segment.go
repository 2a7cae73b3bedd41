// ABOUTME: ConversationSegment is a topic-coherent contiguous slice of a conversation
// ABOUTME: SegmentEmbedding caches a vector for a segment under a named model
package models

import "time"

// ConversationSegment is immutable once created; regenerate by delete + recreate
type ConversationSegment struct {
	ID             string    `json:"id" yaml:"id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	SegmentIndex   int       `json:"segment_index" yaml:"segment_index"`
	StartMessage   int       `json:"start_message" yaml:"start_message"`
	EndMessage     int       `json:"end_message" yaml:"end_message"`
	MessageCount   int       `json:"message_count" yaml:"message_count"`
	Content        string    `json:"content" yaml:"-"`
	ContentHash    string    `json:"content_hash" yaml:"content_hash"`
	RunID          string    `json:"run_id" yaml:"run_id"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// SegmentEmbedding is a cached vector, valid only while SourceHash matches the segment's content hash
type SegmentEmbedding struct {
	ID         string    `json:"id" yaml:"id"`
	SegmentID  string    `json:"segment_id" yaml:"segment_id"`
	Model      string    `json:"model" yaml:"model"`
	Dimensions int       `json:"dimensions" yaml:"dimensions"`
	Vector     []float64 `json:"-" yaml:"-"`
	SourceHash string    `json:"source_hash" yaml:"source_hash"`
	RunID      string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// IsValidFor reports whether the cached vector still describes content with hash contentHash.
func (e *SegmentEmbedding) IsValidFor(contentHash string) bool {
	return e != nil && e.SourceHash == contentHash && len(e.Vector) > 0
}
