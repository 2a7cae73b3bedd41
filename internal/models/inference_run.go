// ABOUTME: InferenceRun is the audited, versioned execution of a derived computation
// ABOUTME: Every derived record points back at the run that produced it
package models

import "time"

// RunType tags what a run computed
type RunType string

const (
	RunSegmentation RunType = "segmentation"
	RunEmbedding    RunType = "embedding"
	RunClustering   RunType = "clustering"
	RunSimilarity   RunType = "similarity"
	RunDrift        RunType = "drift"
)

// RunStatus is the lifecycle state of an InferenceRun
type RunStatus string

const (
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
)

// InferenceRun records one execution and its reproducibility key
type InferenceRun struct {
	ID           string                 `json:"id" yaml:"id"`
	Type         RunType                `json:"type" yaml:"type"`
	Model        string                 `json:"model,omitempty" yaml:"model,omitempty"`
	ModelVersion string                 `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	Scope        string                 `json:"scope,omitempty" yaml:"scope,omitempty"`
	ConfigHash   string                 `json:"config_hash" yaml:"config_hash"`
	Config       string                 `json:"config,omitempty" yaml:"config,omitempty"`
	Status       RunStatus              `json:"status" yaml:"status"`
	StartedAt    time.Time              `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}
