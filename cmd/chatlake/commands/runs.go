// ABOUTME: Runs command group lists inference runs and exports their audit record
// ABOUTME: show --export writes YAML or JSON with everything the run produced
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/models"
)

var runTypes = []string{
	string(models.RunSegmentation),
	string(models.RunEmbedding),
	string(models.RunClustering),
	string(models.RunSimilarity),
	string(models.RunDrift),
}

// NewRunsCmd creates the runs command group
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect inference runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		runType string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inference runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runType != "" && !containsString(runTypes, runType) {
				return fmt.Errorf("--type must be one of %s", strings.Join(runTypes, ", "))
			}
			if err := validatePositiveInt(limit, "limit"); err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.Runs.List(cmd.Context(), models.RunType(runType), limit)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			if wantJSON(cmd) {
				if list == nil {
					list = []*models.InferenceRun{}
				}
				return printJSON(cmd, list)
			}

			w := newTable(cmd)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tMODEL\tCONFIG\tSTARTED\tDURATION")
			fmt.Fprintln(w, "--\t----\t------\t-----\t------\t-------\t--------")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Type, r.Status, truncate(r.Model, 24), truncate(r.ConfigHash, 12),
					formatTime(r.StartedAt), runDuration(r))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d runs\n", len(list))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runType, "type", "", "Only runs of this type ("+strings.Join(runTypes, ", ")+")")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and what it produced",
		Long: `Show one inference run with its configuration hash, metrics, and
counts of the derived records pointing back at it.

Examples:
  chatlake runs show <run-id>
  chatlake runs show <run-id> --export yaml > run.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if export != "" && export != "yaml" && export != "json" {
				return fmt.Errorf("--export must be yaml or json, got %q", export)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.store.ExportRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case export == "yaml":
				return report.WriteYAML(cmd.OutOrStdout())
			case export == "json", wantJSON(cmd):
				return report.WriteJSON(cmd.OutOrStdout())
			}

			r := report.Run
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:          %s\n", r.ID)
			fmt.Fprintf(out, "Type:         %s\n", r.Type)
			fmt.Fprintf(out, "Status:       %s\n", r.Status)
			if r.Model != "" {
				fmt.Fprintf(out, "Model:        %s\n", r.Model)
			}
			if r.Scope != "" {
				fmt.Fprintf(out, "Scope:        %s\n", r.Scope)
			}
			fmt.Fprintf(out, "Config hash:  %s\n", r.ConfigHash)
			fmt.Fprintf(out, "Started:      %s\n", r.StartedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Duration:     %s\n", runDuration(r))
			if r.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:        %s\n", r.ErrorMessage)
			}
			p := report.Produced
			fmt.Fprintf(out, "Produced:     %d segments, %d embeddings, %d suggestions, %d edges, %d drift metrics\n",
				p.Segments, p.Embeddings, p.Suggestions, p.Similarities, p.DriftMetrics)
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "Write the audit record as yaml or json")
	return cmd
}

func runDuration(r *models.InferenceRun) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
