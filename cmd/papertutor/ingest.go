package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/salmanmuddhoo/papertutor"
	"github.com/salmanmuddhoo/papertutor/store"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		id    string
		title string
		kind  string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Ingest an exam paper or marking scheme",
		Long: `Rasterizes the PDF, detects question boundaries, crops each question
into its own image, and stores everything for later retrieval.`,
		Example: `  # Ingest an exam paper
  papertutor ingest maths-2024.pdf

  # Ingest its marking scheme and link it
  papertutor ingest maths-2024-ms.pdf --kind marking_scheme --id maths-2024-ms
  papertutor link maths-2024 maths-2024-ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			if id == "" {
				base := filepath.Base(path)
				id = strings.TrimSuffix(base, filepath.Ext(base))
			}
			if title == "" {
				title = filepath.Base(path)
			}

			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.IngestPaper(cmd.Context(), papertutor.IngestRequest{
				ID:       id,
				Title:    title,
				Kind:     kind,
				Document: data,
			})
			if err != nil {
				if res != nil {
					fmt.Fprintf(os.Stderr, "failed at stage %q after %d/%d questions\n",
						res.Stage, res.QuestionsStored, res.QuestionsDetected)
				}
				return err
			}

			fmt.Printf("Ingested %s: %d pages, %d questions (%d failed) in %s\n",
				res.DocumentID, res.Pages, res.QuestionsStored, res.QuestionsFailed,
				res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Document ID (defaults to filename without extension)")
	cmd.Flags().StringVar(&title, "title", "", "Human-readable title")
	cmd.Flags().StringVar(&kind, "kind", store.KindExam, "Paper kind: exam or marking_scheme")

	return cmd
}
