package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var paperID string

	cmd := &cobra.Command{
		Use:     "ask --paper <id> <question...>",
		Short:   "Ask a question about an ingested paper",
		Example: `  papertutor ask --paper maths-2024 "how do I solve question 3?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			query := strings.Join(args, " ")
			answer, err := p.Ask(cmd.Context(), paperID, query)
			if err != nil {
				return err
			}

			fmt.Println(answer.Content)
			fmt.Printf("\n[mode=%s question=%s images=%d model=%s]\n",
				answer.Mode, answer.QuestionNumber, answer.ImagesSent, answer.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&paperID, "paper", "", "Document ID of the paper")
	cmd.MarkFlagRequired("paper")

	return cmd
}
