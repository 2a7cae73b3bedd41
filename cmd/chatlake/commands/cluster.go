// ABOUTME: Cluster command runs the full orchestration into project suggestions
// ABOUTME: Segments and embeds outstanding work first, then clusters the cached vectors
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/core"
	"github.com/harper/chatlake/internal/models"
)

// NewClusterCmd creates the cluster command
func NewClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Cluster segments into project suggestions",
		Long: `Run the clustering orchestration:

  1. segment conversations that have no segments
  2. embed segments that have no valid vector
  3. project the vectors to a low-dimensional space
  4. find density clusters (noise stays unassigned)
  5. name each cluster and store it as a Pending suggestion

Assignments and confidences are reproducible for the same data and
configuration. Review suggestions with 'chatlake suggestions'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.provider()
			if err != nil {
				return err
			}
			cache := a.embeddingCache(p)
			orch := core.NewOrchestrator(a.store, a.segmenter(p), cache, p, a.tracker,
				core.ClusterConfigFrom(a.cfg, cache.Model()), a.logger, a.metrics)

			result, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			if result.ProviderDown {
				fmt.Fprintln(out, "Provider unreachable: clustered cached vectors only")
			}
			fmt.Fprintf(out, "Run:       %s\n", result.RunID)
			fmt.Fprintf(out, "Points:    %d\n", result.Points)
			fmt.Fprintf(out, "Clusters:  %d (%d noise points)\n", result.Clusters, result.Noise)
			if result.AutoAccepted > 0 {
				fmt.Fprintf(out, "Accepted:  %d automatically\n", result.AutoAccepted)
			}
			fmt.Fprintln(out)
			return printSuggestions(cmd, result.Suggestions)
		},
	}
}

func printSuggestions(cmd *cobra.Command, suggestions []*models.ProjectSuggestion) error {
	if wantJSON(cmd) {
		if suggestions == nil {
			suggestions = []*models.ProjectSuggestion{}
		}
		return printJSON(cmd, suggestions)
	}

	w := newTable(cmd)
	fmt.Fprintln(w, "ID\tNAME\tCONFIDENCE\tCONVERSATIONS\tSEGMENTS\tSTATUS")
	fmt.Fprintln(w, "--\t----\t----------\t-------------\t--------\t------")
	for _, sg := range suggestions {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%s\n",
			sg.ID, truncate(sg.Name, 40), sg.Confidence, sg.UniqueConversations, len(sg.SegmentIDs), sg.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d suggestions\n", len(suggestions))
	}
	return nil
}
