// ABOUTME: ProjectSuggestion is one proposed cluster awaiting review
// ABOUTME: Project and ProjectAssignment are the organizational records review creates
package models

import (
	"fmt"
	"time"
)

// SuggestionStatus is the review state of a suggestion
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "Pending"
	SuggestionAccepted SuggestionStatus = "Accepted"
	SuggestionRejected SuggestionStatus = "Rejected"
	SuggestionMerged   SuggestionStatus = "Merged"
)

// Valid reports whether s is a known status.
func (s SuggestionStatus) Valid() bool {
	switch s {
	case SuggestionPending, SuggestionAccepted, SuggestionRejected, SuggestionMerged:
		return true
	}
	return false
}

// ProjectSuggestion is one proposed organizational cluster
type ProjectSuggestion struct {
	ID                  string           `json:"id" yaml:"id"`
	RunID               string           `json:"run_id" yaml:"run_id"`
	ClusterLabel        int              `json:"cluster_label" yaml:"cluster_label"`
	Name                string           `json:"name" yaml:"name"`
	Key                 string           `json:"key" yaml:"key"`
	Summary             string           `json:"summary" yaml:"summary"`
	Confidence          float64          `json:"confidence" yaml:"confidence"`
	Status              SuggestionStatus `json:"status" yaml:"status"`
	ResolvedProjectID   string           `json:"resolved_project_id,omitempty" yaml:"resolved_project_id,omitempty"`
	ResolvedAt          *time.Time       `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	ConversationIDs     []string         `json:"conversation_ids" yaml:"conversation_ids"`
	SegmentIDs          []string         `json:"segment_ids" yaml:"segment_ids"`
	UniqueConversations int              `json:"unique_conversations" yaml:"unique_conversations"`
	CreatedAt           time.Time        `json:"created_at" yaml:"created_at"`
}

// CheckActionable returns ErrSuggestionNotPending unless the suggestion is Pending.
func (s *ProjectSuggestion) CheckActionable() error {
	if s.Status != SuggestionPending {
		return fmt.Errorf("%w: %s is %s", ErrSuggestionNotPending, s.ID, s.Status)
	}
	return nil
}

// Project is an accepted organizational grouping of conversations
type Project struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Key            string    `json:"key" yaml:"key"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedByRunID string    `json:"created_by_run_id,omitempty" yaml:"created_by_run_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// ProjectAssignment links a conversation to a project; at most one current row per pair
type ProjectAssignment struct {
	ID             string    `json:"id" yaml:"id"`
	ProjectID      string    `json:"project_id" yaml:"project_id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	SuggestionID   string    `json:"suggestion_id,omitempty" yaml:"suggestion_id,omitempty"`
	RunID          string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	IsCurrent      bool      `json:"is_current" yaml:"is_current"`
	AssignedAt     time.Time `json:"assigned_at" yaml:"assigned_at"`
}
