// ABOUTME: ProjectDriftMetric records per-window topic drift for a project
// ABOUTME: TopicDelta explains which topics gained or lost weight
package models

import "time"

// TopicDelta is one topic's weight in the previous and current windows
type TopicDelta struct {
	Topic    string  `json:"topic" yaml:"topic"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
	Previous float64 `json:"previous" yaml:"previous"`
	Current  float64 `json:"current" yaml:"current"`
	Change   float64 `json:"change" yaml:"change"`
}

// ProjectDriftMetric is the drift of one window relative to the previous retained window
type ProjectDriftMetric struct {
	ID                string       `json:"id" yaml:"id"`
	RunID             string       `json:"run_id" yaml:"run_id"`
	ProjectID         string       `json:"project_id" yaml:"project_id"`
	WindowStart       time.Time    `json:"window_start" yaml:"window_start"`
	WindowEnd         time.Time    `json:"window_end" yaml:"window_end"`
	ConversationCount int          `json:"conversation_count" yaml:"conversation_count"`
	DriftScore        float64      `json:"drift_score" yaml:"drift_score"`
	Deltas            []TopicDelta `json:"deltas" yaml:"deltas"`
	CreatedAt         time.Time    `json:"created_at" yaml:"created_at"`
}
