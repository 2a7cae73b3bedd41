// ABOUTME: Import command stages export files as one batch and ingests them
// ABOUTME: Reports the batch's counters and failures when done
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/exportfmt"
	"github.com/harper/chatlake/internal/ingest"
)

// NewImportCmd creates the import command
func NewImportCmd() *cobra.Command {
	var (
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "import <files...>",
		Short: "Import conversation export files",
		Long: `Import one or more conversation export files as a single batch.

Each file is stored verbatim in the raw store, then parsed entry by entry.
Malformed entries are recorded as failures without stopping the batch.
Re-importing the same export creates no duplicate conversations.

Supported formats: ` + strings.Join(exportfmt.Formats(), ", ") + `

Examples:
  chatlake import conversations.json --type chatgpt --source laptop
  chatlake import claude-export.json --type claude`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := exportfmt.Lookup(format); err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			files := make([]ingest.ImportFile, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening %s: %w", path, err)
				}
				defer f.Close()
				files = append(files, ingest.ImportFile{Name: filepath.Base(path), Format: format, Reader: f})
			}

			engine := a.ingestEngine()
			batch, err := engine.Import(cmd.Context(), ingest.ImportRequest{Source: source, Files: files})
			if batch == nil {
				return err
			}
			report, statusErr := engine.Status(cmd.Context(), batch.ID)
			if statusErr != nil {
				a.logger.Warn("reading batch report", "batch_id", batch.ID, "error", statusErr)
			} else if wantJSON(cmd) {
				if jsonErr := printJSON(cmd, report); jsonErr != nil {
					return jsonErr
				}
			} else {
				printBatch(cmd, report)
			}
			if err != nil {
				return fmt.Errorf("import batch %s: %w", batch.ID, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "type", exportfmt.FormatChatGPT, "Export format ("+strings.Join(exportfmt.Formats(), ", ")+")")
	cmd.Flags().StringVar(&source, "source", "", "Source label for the batch (default: the format name)")

	return cmd
}

func printBatch(cmd *cobra.Command, report *ingest.BatchReport) {
	b := report.Batch
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch:          %s\n", b.ID)
	fmt.Fprintf(out, "Source:         %s\n", b.SourceLabel)
	status := string(b.Status)
	if report.Stale {
		status += " (stale)"
	}
	fmt.Fprintf(out, "Status:         %s\n", status)
	fmt.Fprintf(out, "Progress:       %.0f%%\n", b.Progress()*100)
	fmt.Fprintf(out, "Conversations:  %d seen, %d new\n", b.ConversationsSeen, b.ConversationsCreated)
	fmt.Fprintf(out, "Messages:       %d new\n", b.MessagesInserted)
	fmt.Fprintf(out, "Failures:       %d\n", b.ArtifactFailures)
	if b.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:          %s\n", b.ErrorMessage)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  entry %d: %s\n", f.EntryIndex, truncate(f.Message, 80))
	}
}
