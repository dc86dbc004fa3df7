package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/caseline/caseline/internal/assign"
	"github.com/caseline/caseline/internal/mcp"
	"github.com/caseline/caseline/internal/store"
)

func newAssignCmd() *cobra.Command {
	var (
		create   bool
		reject   bool
		reviewer string
		note     string
	)
	cmd := &cobra.Command{
		Use:   "assign <pending-id> [label]",
		Short: "Apply a reviewer decision to a pending item",
		Long: `Assign resolves one review-queue entry: append its segment to the case
with the given label, create a new case with --create, or discard the
suggestion with --reject. Rejection is terminal for the entry.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pendingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pending id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var res assign.Result
			if reject {
				res, err = assign.Reject(cmd.Context(), a.st, pendingID, reviewer, note)
			} else {
				if len(args) < 2 {
					return fmt.Errorf("a case label is required unless --reject is set")
				}
				res, err = assign.AssignManually(cmd.Context(), a.st, assign.ManualRequest{
					PendingID: pendingID,
					CaseLabel: args[1],
					CreateNew: create,
					Reviewer:  reviewer,
					Note:      note,
				})
			}
			if err != nil {
				return err
			}

			if !res.OK {
				fmt.Println(res.Message)
				os.Exit(1)
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create a new case with the given label")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the pending item")
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultReviewer(), "reviewer identity recorded on the decision")
	cmd.Flags().StringVar(&note, "note", "", "reviewer note")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <document-id>",
		Short: "Re-run case resolution for a processed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pl.ReResolve(cmd.Context(), documentID)
			if err != nil {
				return err
			}

			r := res.Resolution
			fmt.Printf("document %d: method=%s confidence=%.2f", res.DocumentID, r.Method, r.Confidence)
			if r.Label != "" {
				fmt.Printf(" label=%s", r.Label)
			}
			if r.AutoAssign {
				fmt.Print(" (auto-assigned)")
			} else {
				fmt.Print(" (queued for review)")
			}
			fmt.Println()
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var stats *store.Stats
			if recompute {
				stats, err = a.svc.RecomputeStats(cmd.Context())
			} else {
				stats, err = a.svc.Stats(cmd.Context())
			}
			if err != nil {
				return err
			}

			fmt.Printf("Documents:      %d\n", stats.Documents)
			fmt.Printf("Segments:       %d", stats.Segments)
			if len(stats.SegmentsByType) > 0 {
				fmt.Printf("  (quantitative %d, qualitative %d, mixed %d)",
					stats.SegmentsByType["quantitative"],
					stats.SegmentsByType["qualitative"],
					stats.SegmentsByType["mixed"])
			}
			fmt.Println()
			fmt.Printf("Keywords:       %d\n", stats.Keywords)
			fmt.Printf("Occurrences:    %d\n", stats.Occurrences)
			fmt.Printf("Cases:          %d\n", stats.Cases)
			fmt.Printf("Pending review: %d\n", stats.PendingReview)

			if len(stats.TopKeywords) > 0 {
				fmt.Println("\nTop keywords:")
				for _, k := range stats.TopKeywords {
					fmt.Printf("  %8.3f  %-24s tf=%d df=%d\n", k.Relevance, k.Term, k.TotalFreq, k.DocumentFreq)
				}
			}
			fmt.Printf("\nComputed at %s\n", stats.ComputedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "rebuild the snapshot, bypassing the cache")
	return cmd
}

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.st.Vacuum(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Database compacted.")
			return nil
		},
	}
}

func newServeMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the MCP tool surface on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerConfig{
				Store:    a.st,
				Pipeline: a.pl,
				Search:   a.svc,
				Version:  version,
			})
			return mcp.ServeStdio(srv)
		},
	}
}

func defaultReviewer() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "reviewer"
}
