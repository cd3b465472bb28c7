package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all papers and questions to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.ExportWorkbook(cmd.Context(), output); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "papers.xlsx", "Output workbook path")

	return cmd
}
