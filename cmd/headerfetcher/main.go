package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "headerfetcher",
		Usage: "Fetch block headers from an EVM RPC endpoint",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the header fetcher",
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

// runFlags returns all CLI flags for the headerfetcher run command
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
			Name:     "rpc-url",
			Aliases:  []string{"r"},
			Usage:    "The RPC URL to fetch blocks from",
			EnvVars:  []string{"RPC_URL"},
			Required: true,
		},
		&cli.Uint64Flag{
			Name:    "start-height",
			Aliases: []string{"s"},
			Usage:   "The start height to fetch blocks from. If not specified, resumes after the persisted head",
			EnvVars: []string{"START_HEIGHT"},
		},
		&cli.Uint64Flag{
			Name:    "end-height",
			Aliases: []string{"e"},
			Usage:   "The end height to fetch blocks to. If not specified, follows the chain tip",
			EnvVars: []string{"END_HEIGHT"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Aliases: []string{"i"},
			Usage:   "How often to poll the RPC endpoint for new blocks",
			EnvVars: []string{"POLL_INTERVAL"},
			Value:   2 * time.Second,
		},
		&cli.IntFlag{
			Name:    "max-failures",
			Aliases: []string{"f"},
			Usage:   "The maximum number of consecutive RPC failures before stopping",
			EnvVars: []string{"MAX_FAILURES"},
			Value:   3,
		},
		&cli.BoolFlag{
			Name:    "direct",
			Aliases: []string{"d"},
			Usage:   "Write validated headers straight to ClickHouse instead of publishing to Kafka",
			EnvVars: []string{"DIRECT_MODE"},
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "The Kafka brokers to use (comma-separated list)",
			EnvVars: []string{"KAFKA_BROKERS"},
			Value:   "localhost:9092",
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Aliases: []string{"t"},
			Usage:   "The Kafka topic to publish raw blocks to",
			EnvVars: []string{"KAFKA_TOPIC"},
			Value:   "raw-blocks",
		},
		&cli.StringFlag{
			Name:    "kafka-client-id",
			Usage:   "The Kafka client ID to use",
			EnvVars: []string{"KAFKA_CLIENT_ID"},
			Value:   "headerfetcher",
		},
		&cli.BoolFlag{
			Name:    "kafka-enable-logs",
			Aliases: []string{"l"},
			Usage:   "Enable librdkafka client logs",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
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
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment label for metrics",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
	}
}
