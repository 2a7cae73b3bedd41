// ABOUTME: Command-line runner for the synthetic pipeline benchmark
// ABOUTME: Prints phase timings and checks, writes JSON results, and exits non-zero on failure

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/chatlake/benchmarks/synthetic"
)

func main() {
	if err := newBenchmarkCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newBenchmarkCmd() *cobra.Command {
	gen := synthetic.DefaultGeneratorConfig()
	var (
		outputPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:          "benchmark",
		Short:        "Run the synthetic ingestion and clustering benchmark",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "========================================")
			fmt.Fprintln(out, "chatlake synthetic benchmark")
			fmt.Fprintln(out, "========================================")

			runner, err := synthetic.NewRunner(gen, verbose, out)
			if err != nil {
				return err
			}
			report, err := runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("benchmark failed: %w", err)
			}

			fmt.Fprintln(out, "\nPHASES")
			for _, p := range report.Phases {
				fmt.Fprintf(out, "  %-16s %6d items  %v\n", p.Phase, p.Items, p.Duration.Round(time.Millisecond))
			}
			fmt.Fprintf(out, "\nConversations: %d  Segments: %d  Clusters: %d  Noise: %d  Edges: %d\n",
				report.Conversations, report.Segments, report.Clusters, report.Noise, report.Edges)

			fmt.Fprintln(out, "\nCHECKS")
			failed := 0
			for _, c := range report.Checks {
				status := "PASS"
				if !c.Passed {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(out, "  [%s] %s: %s\n", status, c.Name, c.Detail)
			}
			fmt.Fprintf(out, "\nTotal checks: %d  Passed: %d  Failed: %d\n",
				len(report.Checks), len(report.Checks)-failed, failed)

			if err := synthetic.ExportResults(report, outputPath); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&gen.Topics, "topics", gen.Topics, "Number of topics to generate")
	flags.IntVar(&gen.ConversationsPerTopic, "conversations", gen.ConversationsPerTopic, "Conversations per topic")
	flags.IntVar(&gen.MessagesPerConversation, "messages", gen.MessagesPerConversation, "Messages per conversation")
	flags.Uint64Var(&gen.Seed, "seed", gen.Seed, "Generator seed")
	flags.StringVar(&outputPath, "output", "benchmark_results.json", "Output path for JSON results")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	return cmd
}
