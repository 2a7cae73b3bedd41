// ABOUTME: Suggestions command group: list, accept, reject, and merge
// ABOUTME: Review boundary for clustering output on the command line
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/models"
)

// NewSuggestionsCmd creates the suggestions command group
func NewSuggestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "suggestions",
		Aliases: []string{"sg"},
		Short:   "Review project suggestions",
	}
	cmd.AddCommand(newSuggestionsListCmd(), newSuggestionsAcceptCmd(), newSuggestionsRejectCmd(), newSuggestionsMergeCmd())
	return cmd
}

func newSuggestionsListCmd() *cobra.Command {
	var (
		status string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions, highest confidence first",
		Long: `List project suggestions.

Examples:
  chatlake suggestions list
  chatlake suggestions list --status all
  chatlake suggestions list --status Accepted --run <run-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.SuggestionStatus(status)
			if status == "all" {
				filter = ""
			} else if !filter.Valid() {
				return fmt.Errorf("unknown status %q (want Pending, Accepted, Rejected, Merged, or all)", status)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			suggestions, err := a.store.Suggestions.List(cmd.Context(), filter, runID)
			if err != nil {
				return fmt.Errorf("listing suggestions: %w", err)
			}
			return printSuggestions(cmd, suggestions)
		},
	}
	cmd.Flags().StringVar(&status, "status", string(models.SuggestionPending), "Pending, Accepted, Rejected, Merged, or all")
	cmd.Flags().StringVar(&runID, "run", "", "Only suggestions from this clustering run")
	return cmd
}

func newSuggestionsAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <suggestion-id>",
		Short: "Accept a suggestion as a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, func(r *core.Reviewer) (*models.Project, error) {
				return r.Accept(cmd.Context(), args[0])
			})
		},
	}
}

func newSuggestionsRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <suggestion-id>",
		Short: "Reject a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, func(r *core.Reviewer) (*models.Project, error) {
				return nil, r.Reject(cmd.Context(), args[0])
			})
		},
	}
}

func newSuggestionsMergeCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "merge <suggestion-id>",
		Short: "Merge a suggestion's conversations into an existing project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return review(cmd, func(r *core.Reviewer) (*models.Project, error) {
				return r.Merge(cmd.Context(), args[0], projectID)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Target project ID")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func review(cmd *cobra.Command, decide func(r *core.Reviewer) (*models.Project, error)) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	project, err := decide(core.NewReviewer(a.store, a.logger))
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(cmd, map[string]interface{}{"project": project})
	}
	if project == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Suggestion rejected")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project %s (%s)\n", project.Name, project.ID)
	return nil
}
