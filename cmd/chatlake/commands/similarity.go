// ABOUTME: Similarity and drift commands derive cross-conversation structure
// ABOUTME: Similarity writes related-conversation edges; drift scores a project's topic mix over time
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/core"
)

// NewSimilarityCmd creates the similarity command
func NewSimilarityCmd() *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Compute related-conversation edges",
		Long: `Score every pair of conversations and keep the strongest edges.

The embedding method compares mean segment vectors; the lexical method
compares content-word profiles and needs no provider. Each conversation
keeps at most its top-K partners above the threshold.

Examples:
  chatlake similarity
  chatlake similarity --method lexical`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if method != "" {
				a.cfg.SimilarityMethod = method
			}
			model := ""
			switch a.cfg.SimilarityMethod {
			case config.SimilarityEmbedding:
				p, err := a.provider()
				if err != nil {
					return err
				}
				model = p.EmbeddingModel()
			case config.SimilarityLexical:
			default:
				return fmt.Errorf("--method must be %q or %q, got %q",
					config.SimilarityEmbedding, config.SimilarityLexical, a.cfg.SimilarityMethod)
			}

			engine := core.NewSimilarityEngine(a.store, a.tracker, core.SimilarityConfigFrom(a.cfg, model), a.logger, a.metrics)
			result, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:            %s\n", result.RunID)
			fmt.Fprintf(out, "Method:         %s\n", result.Method)
			fmt.Fprintf(out, "Conversations:  %d\n", result.Conversations)
			fmt.Fprintf(out, "Pairs scored:   %d\n", result.Pairs)
			fmt.Fprintf(out, "Edges kept:     %d\n", result.Edges)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "embedding or lexical (default: from config)")
	return cmd
}

// NewDriftCmd creates the drift command
func NewDriftCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "drift <project-id>",
		Short: "Compute topic drift for a project",
		Long: `Compute how a project's topic mix changed across fixed time windows.

Topics come from the latest completed clustering run. Windows with too
few conversations, or none covered by a topic, are skipped; each
remaining window is compared with the previous one.

Examples:
  chatlake drift <project-id>
  chatlake drift <project-id> --as-of 2026-06-30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if asOf != "" {
				parsed, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				at = parsed
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := core.NewDriftEngine(a.store, a.tracker, core.DriftConfigFrom(a.cfg), a.logger, a.metrics)
			result, err := engine.Compute(cmd.Context(), args[0], at)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", result.RunID)
			fmt.Fprintf(out, "Windows:  %d (%d retained, %d skipped)\n", result.Windows, result.Retained, result.Skipped)
			fmt.Fprintln(out)
			w := newTable(cmd)
			fmt.Fprintln(w, "WINDOW\tCONVERSATIONS\tDRIFT\tLARGEST SHIFT")
			fmt.Fprintln(w, "------\t-------------\t-----\t-------------")
			for _, m := range result.Metrics {
				shift := ""
				if len(m.Deltas) > 0 {
					d := m.Deltas[0]
					name := d.Label
					if name == "" {
						name = d.Topic
					}
					shift = fmt.Sprintf("%s %+.2f", truncate(name, 30), d.Change)
				}
				fmt.Fprintf(w, "%s..%s\t%d\t%.3f\t%s\n",
					m.WindowStart.Format(time.DateOnly), m.WindowEnd.Format(time.DateOnly),
					m.ConversationCount, m.DriftScore, shift)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "End of the latest window (default: now)")
	return cmd
}
