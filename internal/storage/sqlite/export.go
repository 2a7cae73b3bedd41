// ABOUTME: Run audit export for derived computations
// ABOUTME: Emits a run's record plus counts of everything it produced as YAML or JSON
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harper/chatlake/internal/models"
)

// RunReport is the exportable audit record for one inference run
type RunReport struct {
	Version    string               `yaml:"version" json:"version"`
	ExportedAt string               `yaml:"exported_at" json:"exported_at"`
	Tool       string               `yaml:"tool" json:"tool"`
	Run        *models.InferenceRun `yaml:"run" json:"run"`
	Produced   ProducedCounts       `yaml:"produced" json:"produced"`
	Suggestion []ReportSuggestion   `yaml:"suggestions,omitempty" json:"suggestions,omitempty"`
}

// ProducedCounts tallies derived records that point back at a run
type ProducedCounts struct {
	Segments     int `yaml:"segments" json:"segments"`
	Embeddings   int `yaml:"embeddings" json:"embeddings"`
	Suggestions  int `yaml:"suggestions" json:"suggestions"`
	Similarities int `yaml:"similarities" json:"similarities"`
	DriftMetrics int `yaml:"drift_metrics" json:"drift_metrics"`
}

// ReportSuggestion is the compact suggestion view embedded in a report
type ReportSuggestion struct {
	Label         int     `yaml:"label" json:"label"`
	Name          string  `yaml:"name" json:"name"`
	Status        string  `yaml:"status" json:"status"`
	Confidence    float64 `yaml:"confidence" json:"confidence"`
	Conversations int     `yaml:"conversations" json:"conversations"`
	Segments      int     `yaml:"segments" json:"segments"`
}

// ExportRun builds the audit report for runID
func (s *Storage) ExportRun(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", models.ErrNotFound, runID)
	}

	report := &RunReport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Tool:       "chatlake",
		Run:        run,
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"conversation_segments", &report.Produced.Segments},
		{"segment_embeddings", &report.Produced.Embeddings},
		{"project_suggestions", &report.Produced.Suggestions},
		{"conversation_similarities", &report.Produced.Similarities},
		{"project_drift_metrics", &report.Produced.DriftMetrics},
	}
	for _, c := range counts {
		// table names come from the fixed list above
		query := `SELECT COUNT(*) FROM ` + c.table + ` WHERE run_id = ?` // #nosec G202
		if err := s.q.QueryRowContext(ctx, query, runID).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	if run.Type == models.RunClustering {
		suggestions, err := s.Suggestions.ListByRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to list suggestions: %w", err)
		}
		for _, sg := range suggestions {
			report.Suggestion = append(report.Suggestion, ReportSuggestion{
				Label:         sg.ClusterLabel,
				Name:          sg.Name,
				Status:        string(sg.Status),
				Confidence:    sg.Confidence,
				Conversations: sg.UniqueConversations,
				Segments:      len(sg.SegmentIDs),
			})
		}
	}

	return report, nil
}

// WriteYAML encodes the report as YAML
func (r *RunReport) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

// WriteJSON encodes the report as indented JSON
func (r *RunReport) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
