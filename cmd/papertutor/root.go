package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/salmanmuddhoo/papertutor"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "papertutor",
		Short: "Exam paper segmentation and tutoring from the command line",
		Long: `Papertutor ingests past exam papers, segments them into individual
questions using a vision-capable LLM, and answers student questions
grounded in the paper's own images.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			})))
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (JSON)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newPapersCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// openPipeline builds a pipeline from the resolved config. Callers own
// the returned pipeline and must Close it.
func openPipeline(cmd *cobra.Command) (*papertutor.Pipeline, error) {
	cfg, err := papertutor.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return papertutor.New(cmd.Context(), cfg)
}
