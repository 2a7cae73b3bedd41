// ABOUTME: RawArtifact is one uploaded export file, immutable after creation
// ABOUTME: ArtifactFailure records a parse problem scoped to one artifact or entry
package models

import "time"

// RawArtifact is one uploaded file held by the raw store
type RawArtifact struct {
	ID           string    `json:"id" yaml:"id"`
	BatchID      string    `json:"batch_id" yaml:"batch_id"`
	Name         string    `json:"name" yaml:"name"`
	DeclaredType string    `json:"declared_type" yaml:"declared_type"`
	ByteLength   int64     `json:"byte_length" yaml:"byte_length"`
	ContentHash  string    `json:"content_hash" yaml:"content_hash"`
	FilePath     string    `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Inline       []byte    `json:"-" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// IsFileBacked reports whether the bytes live on disk rather than inline.
func (a *RawArtifact) IsFileBacked() bool {
	return a.FilePath != ""
}

// ArtifactFailure is a per-artifact (EntryIndex < 0) or per-entry parse failure
type ArtifactFailure struct {
	ID         string    `json:"id" yaml:"id"`
	BatchID    string    `json:"batch_id" yaml:"batch_id"`
	ArtifactID string    `json:"artifact_id" yaml:"artifact_id"`
	EntryIndex int       `json:"entry_index" yaml:"entry_index"`
	Message    string    `json:"message" yaml:"message"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}
