// Command papertutor is the CLI for ingesting exam papers and asking
// questions about them.
//
// The search subcommand needs FTS5 compiled into the SQLite driver:
//
//	go build -tags sqlite_fts5 ./cmd/papertutor
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()

	// fang adds completions, manpages and --version for free.
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
