package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "headerconsumer",
		Usage: "Consume raw blocks from Kafka and persist validated headers to ClickHouse",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the header consumer",
				Flags:  runFlags(),
				Action: run,
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runFlags returns all CLI flags for the headerconsumer run command.
// Kafka and ClickHouse connection settings come from the environment.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		&cli.Uint64Flag{
			Name:     "chain-id",
			Aliases:  []string{"C"},
			Usage:    "The EVM chain ID being indexed",
			EnvVars:  []string{"CHAIN_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "headers-table-name",
			Aliases: []string{"T"},
			Usage:   "The name of the ClickHouse table holding headers",
			EnvVars: []string{"HEADERS_TABLE_NAME"},
			Value:   "headers",
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "The host to bind the metrics server to",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "The port to bind the metrics server to",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9091,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment label for metrics",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
	}
}
