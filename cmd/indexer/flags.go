package main

import (
	"github.com/urfave/cli/v2"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"f"},
		Usage:   "The config file",
		EnvVars: []string{"INDEXER_CONFIG"},
		Value:   "etc/indexer.yaml",
	}
}

// indexFlags 中的非零值覆盖配置文件
func indexFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Crawl mode: backfill (towards the boundary) or catchup (newest activity only)",
			EnvVars: []string{"CRAWL_MODE"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of concurrent fetch/decode workers per page",
			EnvVars: []string{"CRAWL_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Aliases: []string{"r"},
			Usage:   "The Solana JSON-RPC endpoint",
			EnvVars: []string{"RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "The SQLite database file",
			EnvVars: []string{"DB_PATH"},
		},
	}
}

func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			Usage:   "The SQLite database file",
			EnvVars: []string{"DB_PATH"},
			Value:   "stakedex.db",
		},
		&cli.StringFlag{
			Name:  "sig",
			Usage: "Only invocations of this transaction signature",
		},
		&cli.StringFlag{
			Name:  "signer",
			Usage: "Only invocations signed by this account",
		},
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Only this instruction kind (StakeWrapSol, SwapViaStake, DepositStake)",
		},
		&cli.StringFlag{
			Name:  "mint",
			Usage: "Only invocations with this mint as input or output",
		},
		&cli.Uint64Flag{
			Name:  "from-slot",
			Usage: "Lowest slot (inclusive)",
		},
		&cli.Uint64Flag{
			Name:  "to-slot",
			Usage: "Highest slot (inclusive)",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of rows",
			Value:   100,
		},
		&cli.BoolFlag{
			Name:  "newest",
			Usage: "Order by slot descending",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: json or yaml",
			Value: "json",
		},
		&cli.BoolFlag{
			Name:  "count",
			Usage: "Print the total number of stored invocations and exit",
		},
	}
}
