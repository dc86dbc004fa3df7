package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caseline/caseline/internal/store"
)

func newKeywordCmd() *cobra.Command {
	var expand bool
	cmd := &cobra.Command{
		Use:   "keyword <term>",
		Short: "Show every occurrence of a keyword with context and provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.svc.Lookup(cmd.Context(), args[0], expand)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No occurrences found.")
				return nil
			}

			for _, h := range hits {
				fmt.Printf("%-20s %-12s %s (segment %d)\n", h.Term, h.SegmentType, h.Filename, h.SegmentID)
				if h.Context != "" {
					fmt.Printf("    %s\n", h.Context)
				}
				if h.NumericValue != nil {
					fmt.Printf("    value: %g\n", *h.NumericValue)
				}
			}
			fmt.Printf("\n%d occurrence(s)\n", len(hits))
			return nil
		},
	}
	cmd.Flags().BoolVar(&expand, "expand", false, "also match synonyms and abbreviation expansions")
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Boolean keyword search, e.g. 'nodule AND malignancy OR mass'",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.svc.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			for _, r := range results {
				fmt.Printf("%8.3f  %s  [%s]\n", r.Score, r.Filename, strings.Join(r.MatchedTerms, ", "))
			}
			return nil
		},
	}
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <term>...",
		Short: "Find documents containing all of the given keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.svc.FilesByKeywords(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No matching documents.")
				return nil
			}

			for _, m := range matches {
				fmt.Printf("%4d  %s (doc %d)\n", m.MatchCount, m.Filename, m.DocumentID)
			}
			return nil
		},
	}
}

func newDocsCmd() *cobra.Command {
	var (
		extension   string
		segmentType string
		minKeywords int
		hasCase     string
		after       string
		before      string
		term        string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List documents with filters, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			f := store.DocumentFilter{
				Extension:   extension,
				SegmentType: store.SegmentType(segmentType),
				MinKeywords: minKeywords,
				After:       after,
				Before:      before,
				TermSubstr:  term,
				Limit:       limit,
			}
			switch hasCase {
			case "yes":
				v := true
				f.HasCase = &v
			case "no":
				v := false
				f.HasCase = &v
			}

			docs, err := a.svc.ListDocuments(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("No documents.")
				return nil
			}

			for _, d := range docs {
				label := d.Metadata[store.MetaCaseLabel]
				if label == "" {
					label = "-"
				}
				fmt.Printf("%5d  %-10s  %-20s  %s\n", d.ID, d.Status, label, d.Filename)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&extension, "ext", "", "filter by file extension")
	cmd.Flags().StringVar(&segmentType, "segment-type", "", "require a segment of this type (quantitative|qualitative|mixed)")
	cmd.Flags().IntVar(&minKeywords, "min-keywords", 0, "minimum distinct keyword count")
	cmd.Flags().StringVar(&hasCase, "has-case", "", "filter by case presence (yes|no)")
	cmd.Flags().StringVar(&after, "after", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&before, "before", "", "created on or before (YYYY-MM-DD)")
	cmd.Flags().StringVar(&term, "term", "", "keyword substring the document must contain")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func newCaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "case <label>",
		Short: "Show a case: counters, top keywords, files, and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			detail, err := a.svc.CaseByLabel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			c := detail.Case
			fmt.Printf("Case %s (id %d)\n", c.Label, c.ID)
			fmt.Printf("  method:      %s\n", c.Method)
			fmt.Printf("  confidence:  %.2f\n", c.Confidence)
			fmt.Printf("  cross-type:  %v\n", c.CrossTypeValidated)
			fmt.Printf("  keywords:    %d  segments: %d  files: %d\n", c.KeywordCount, c.SegmentCount, c.FileCount)

			if len(detail.TopKeywords) > 0 {
				fmt.Println("\nTop keywords:")
				for _, k := range detail.TopKeywords {
					fmt.Printf("  %8.3f  %s\n", k.Relevance, k.Term)
				}
			}
			if len(detail.Files) > 0 {
				fmt.Println("\nFiles:")
				for _, f := range detail.Files {
					fmt.Printf("  %s\n", f)
				}
			}
			if len(detail.Versions) > 0 {
				fmt.Println("\nHistory:")
				for _, v := range detail.Versions {
					fmt.Printf("  %s  doc %d  +%d segment(s)\n",
						v.CreatedAt.Format("2006-01-02 15:04"), v.DocumentID, v.SegmentCount)
				}
			}
			return nil
		},
	}
}

func newPendingCmd() *cobra.Command {
	var status string
	var documentID int64
	var showPayload bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List review-queue entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.svc.ListPending(cmd.Context(), store.PendingFilter{
				Status:     status,
				DocumentID: documentID,
			})
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Review queue is empty.")
				return nil
			}

			for _, p := range items {
				suggested := p.SuggestedLabel
				if suggested == "" {
					suggested = "-"
				}
				fmt.Printf("%5d  %-9s  conf %.2f  %-18s  %-20s  doc %d seg %d\n",
					p.ID, p.Status, p.Confidence, p.Method, suggested, p.DocumentID, p.SegmentID)
				if showPayload {
					seg, err := a.st.GetSegment(cmd.Context(), p.SegmentID)
					if err != nil {
						return err
					}
					if seg != nil {
						fmt.Printf("       [%s] %s\n", seg.SegmentType, truncate(seg.Payload, 120))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "review status filter (empty for all)")
	cmd.Flags().Int64Var(&documentID, "doc", 0, "only entries for this document id")
	cmd.Flags().BoolVar(&showPayload, "payload", false, "show each entry's segment payload")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
