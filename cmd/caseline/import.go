package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/pipeline"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import documents and run the full pipeline on each",
		Long: `Import reads each file, splits it into paragraph segments with a measured
numeric-density ratio, and runs the full pipeline: dedupe by content hash,
classify, extract keywords, resolve the case identity, and auto-assign or
queue for review. Re-importing identical content is a no-op.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			inputs := make([]pipeline.DocumentInput, 0, len(args))
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				inputs = append(inputs, pipeline.DocumentInput{
					Filename: filepath.Base(path),
					Content:  content,
					Segments: segmentContent(string(content)),
				})
			}

			bar := progressbar.Default(int64(len(inputs)), "importing")

			var imported, duplicates, failed int
			// Batches sized to the worker pool keep the progress bar honest.
			for start := 0; start < len(inputs); start += a.cfg.Workers {
				end := start + a.cfg.Workers
				if end > len(inputs) {
					end = len(inputs)
				}
				for _, br := range a.pl.ProcessBatch(cmd.Context(), inputs[start:end]) {
					bar.Add(1)
					switch {
					case br.Err != nil:
						failed++
						fmt.Fprintf(os.Stderr, "failed: %s: %v\n", br.Input.Filename, br.Err)
					case br.Result.Duplicate:
						duplicates++
					default:
						imported++
					}
				}
			}

			fmt.Printf("\nImported %d document(s), %d duplicate(s), %d failed\n", imported, duplicates, failed)
			return nil
		},
	}
	return cmd
}

// segmentContent splits raw text into paragraph segments. A short first
// paragraph is treated as the title region; everything else is body. Formats
// with real structure arrive pre-segmented through the MCP surface instead.
func segmentContent(content string) []pipeline.SegmentInput {
	paragraphs := splitParagraphs(content)
	segments := make([]pipeline.SegmentInput, 0, len(paragraphs))
	for i, p := range paragraphs {
		region := "body"
		if i == 0 && len(paragraphs) > 1 && len(p) < 120 && !strings.Contains(p, "\n") {
			region = "title"
		}
		segments = append(segments, pipeline.SegmentInput{
			Payload:      p,
			Position:     fmt.Sprintf("para:%d", i+1),
			Region:       region,
			NumericRatio: extract.NumericDensity(p),
		})
	}
	return segments
}

func splitParagraphs(content string) []string {
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		if p := strings.TrimSpace(block); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
