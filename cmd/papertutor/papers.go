package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPapersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "papers",
		Short: "List and manage ingested papers",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			papers, err := p.ListPapers(cmd.Context())
			if err != nil {
				return err
			}
			if len(papers) == 0 {
				fmt.Println("No papers ingested yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tKIND\tPAGES\tSTATUS\tANSWER KEY")
			for _, paper := range papers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					paper.ID, paper.Title, paper.Kind, paper.PageCount,
					paper.Status, paper.AnswerKeyID)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(newDeleteCmd())

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a paper and all its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.DeletePaper(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <paper-id> <scheme-id>",
		Short: "Link a marking scheme to an exam paper",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.LinkAnswerKey(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Linked %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}
