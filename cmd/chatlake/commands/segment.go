// ABOUTME: Segment and embed commands run the first two derivation phases
// ABOUTME: Both only do outstanding work and each records one inference run
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSegmentCmd creates the segment command
func NewSegmentCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Split conversations into topic segments",
		Long: `Split every unsegmented conversation into topic segments.

Boundaries fall where the similarity between sliding windows of
messages dips. Conversations that are already segmented are skipped;
--reset deletes every segment (and its cached embedding) first.

Examples:
  chatlake segment
  chatlake segment --reset`,
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
			seg := a.segmenter(p)

			if reset {
				n, err := seg.Reset(cmd.Context())
				if err != nil {
					return err
				}
				if !quiet && !wantJSON(cmd) {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d segments\n", n)
				}
			}

			stats, err := seg.SegmentAll(cmd.Context())
			if stats != nil {
				if wantJSON(cmd) {
					if jsonErr := printJSON(cmd, stats); jsonErr != nil {
						return jsonErr
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Run:            %s\n", stats.RunID)
					fmt.Fprintf(out, "Conversations:  %d\n", stats.Conversations)
					fmt.Fprintf(out, "Segmented:      %d (%d segments)\n", stats.Segmented, stats.Segments)
					fmt.Fprintf(out, "Too short:      %d\n", stats.TooShort)
					fmt.Fprintf(out, "Embed failed:   %d\n", stats.EmbedFailed)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete all segments before segmenting")
	return cmd
}

// NewEmbedCmd creates the embed command
func NewEmbedCmd() *cobra.Command {
	var (
		invalidateOnly bool
		segmentID      string
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate missing segment embeddings",
		Long: `Generate an embedding for every segment that lacks a valid one.

Entries whose source text changed are dropped and regenerated. Progress
is committed in checkpoints, so an interrupted pass loses little work.
--invalidate only drops stale entries without calling the provider.
--segment serves one segment's vector, embedding it under its own run
when the cache has no valid entry.

Examples:
  chatlake embed
  chatlake embed --invalidate
  chatlake embed --segment 3f1c...`,
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

			if segmentID != "" {
				res, err := cache.EmbedSegment(cmd.Context(), a.tracker, segmentID)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd, res)
				}
				source := "cache"
				if !res.Cached {
					source = "run " + res.RunID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %s: %d dimensions from %s (%s)\n",
					res.SegmentID, res.Dimensions, source, res.Model)
				return nil
			}

			if invalidateOnly {
				n, err := cache.InvalidateStale(cmd.Context())
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd, map[string]interface{}{"model": cache.Model(), "invalidated": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d stale embeddings for %s\n", n, cache.Model())
				return nil
			}

			stats, err := cache.EmbedAll(cmd.Context(), a.tracker)
			if stats != nil {
				if wantJSON(cmd) {
					if jsonErr := printJSON(cmd, stats); jsonErr != nil {
						return jsonErr
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Run:          %s\n", stats.RunID)
					fmt.Fprintf(out, "Model:        %s\n", cache.Model())
					fmt.Fprintf(out, "Invalidated:  %d\n", stats.Invalidated)
					fmt.Fprintf(out, "Generated:    %d of %d\n", stats.Generated, stats.Missing)
					fmt.Fprintf(out, "Failed:       %d\n", stats.Failed)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&invalidateOnly, "invalidate", false, "Only drop stale cache entries")
	cmd.Flags().StringVar(&segmentID, "segment", "", "Serve a single segment's vector")
	cmd.MarkFlagsMutuallyExclusive("invalidate", "segment")
	return cmd
}
