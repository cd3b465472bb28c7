package main

import (
	"fmt"
	"strings"

	"github.com/salmanmuddhoo/papertutor/store"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		limit   int
		similar bool
		hybrid  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search stored questions by text",
		Example: `  # Full-text search across all papers
  papertutor search quadratic equations

  # Vector similarity search (requires an embedding provider)
  papertutor search --similar "solving for unknowns"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			query := strings.Join(args, " ")
			var results []store.SearchResult
			switch {
			case hybrid:
				results, err = p.HybridQuestions(cmd.Context(), query, limit)
			case similar:
				results, err = p.SimilarQuestions(cmd.Context(), query, limit)
			default:
				results, err = p.SearchQuestions(cmd.Context(), query, limit)
			}
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			for _, r := range results {
				text := r.QuestionText
				if len(text) > 120 {
					text = text[:120] + "..."
				}
				fmt.Printf("%.3f  %s %s (pages %d-%d)\n  %s\n",
					r.Score, r.DocumentID, r.DisplayLabel, r.StartPage, r.EndPage,
					strings.ReplaceAll(text, "\n", " "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&similar, "similar", false, "Use vector similarity instead of full-text search")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Fuse full-text and vector rankings")

	return cmd
}
