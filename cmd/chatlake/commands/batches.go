// ABOUTME: Batches command group: list, status, stale, and purge
// ABOUTME: Operator view over import batches and their cleanup
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/models"
)

// NewBatchesCmd creates the batches command group
func NewBatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and clean up import batches",
	}
	cmd.AddCommand(newBatchesListCmd(), newBatchesStatusCmd(), newBatchesStaleCmd(), newBatchesPurgeCmd())
	return cmd
}

func newBatchesListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent import batches",
		Long: `List recent import batches, newest first.

Examples:
  chatlake batches list
  chatlake batches list --status Failed --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePositiveInt(limit, "limit"); err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			batches, err := a.ingestEngine().List(cmd.Context(), models.BatchStatus(status), limit)
			if err != nil {
				return fmt.Errorf("listing batches: %w", err)
			}
			return printBatches(cmd, batches)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only batches in this status (Staged, Processing, Committed, Failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of batches")
	return cmd
}

func newBatchesStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show one batch with its progress and failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.ingestEngine().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, report)
			}
			printBatch(cmd, report)
			return nil
		},
	}
}

func newBatchesStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List Processing batches that stopped sending heartbeats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			batches, err := a.ingestEngine().ListStale(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing stale batches: %w", err)
			}
			return printBatches(cmd, batches)
		},
	}
}

func newBatchesPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <batch-id>",
		Short: "Remove an uncommitted batch and the data only it produced",
		Long: `Remove a Failed, Staged, or stale Processing batch together with its raw
artifacts, failures, and the conversations no other batch produced.
Committed batches cannot be purged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.ingestEngine().Purge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged batch %s: %d conversations, %d artifacts, %d files\n",
				result.BatchID, result.ConversationsDeleted, result.ArtifactsDeleted, result.FilesRemoved)
			return nil
		},
	}
}

func printBatches(cmd *cobra.Command, batches []*models.ImportBatch) error {
	if wantJSON(cmd) {
		if batches == nil {
			batches = []*models.ImportBatch{}
		}
		return printJSON(cmd, batches)
	}

	w := newTable(cmd)
	fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tPROGRESS\tNEW CONVS\tFAILURES\tSTARTED")
	fmt.Fprintln(w, "--\t------\t------\t--------\t---------\t--------\t-------")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%d\t%s\n",
			b.ID, truncate(b.SourceLabel, 20), b.Status, b.Progress()*100,
			b.ConversationsCreated, b.ArtifactFailures, formatTime(b.StartedAt))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d batches\n", len(batches))
	}
	return nil
}
