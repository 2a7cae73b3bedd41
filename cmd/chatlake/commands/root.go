// ABOUTME: Root command and global flags for the chatlake CLI
// ABOUTME: Wires every subcommand and rejects conflicting output flags
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const banner = `
 ██████ ██   ██  █████  ████████ ██       █████  ██   ██ ███████
██      ██   ██ ██   ██    ██    ██      ██   ██ ██  ██  ██
██      ███████ ███████    ██    ██      ███████ █████   █████
██      ██   ██ ██   ██    ██    ██      ██   ██ ██  ██  ██
 ██████ ██   ██ ██   ██    ██    ███████ ██   ██ ██   ██ ███████
`

// Output formats accepted by --format
const (
	formatAuto  = "auto"
	formatJSON  = "json"
	formatTable = "table"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
	dbPath       string
	metricsAddr  string
)

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatlake",
		Short: "Ingest chat exports and derive projects, similarity, and drift",
		Long: banner + `
chatlake imports conversation exports (ChatGPT, Claude, or its own
canonical format) into a local SQLite lake, then derives topic segments,
embeddings, project suggestions, related-conversation edges, and
per-project drift. Every derived computation is recorded as an
auditable inference run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose && quiet {
				return fmt.Errorf("--verbose and --quiet cannot be used together")
			}
			switch outputFormat {
			case formatAuto, formatJSON, formatTable:
				return nil
			default:
				return fmt.Errorf("--format must be one of auto, json, table; got %q", outputFormat)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	flags.StringVar(&outputFormat, "format", formatAuto, "Output format (auto, json, table)")
	flags.StringVar(&dbPath, "db", "", "Database path (default: $CHATLAKE_DB or the data directory)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(
		NewImportCmd(),
		NewBatchesCmd(),
		NewSegmentCmd(),
		NewEmbedCmd(),
		NewClusterCmd(),
		NewSuggestionsCmd(),
		NewSimilarityCmd(),
		NewDriftCmd(),
		NewRunsCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
