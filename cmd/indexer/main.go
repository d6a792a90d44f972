package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "stakedex-indexer",
		Usage: "Index stakedex program invocations from Solana history into SQLite",
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Crawl program signatures and persist decoded invocations",
				Flags:  indexFlags(),
				Action: runIndex,
			},
			{
				Name:   "query",
				Usage:  "List persisted invocations",
				Flags:  queryFlags(),
				Action: runQuery,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
