package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/indexforge/header-indexer/internal/chainclient/evm"
	"github.com/indexforge/header-indexer/internal/ingest"
	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/pkg/clickhouse"
	"github.com/indexforge/header-indexer/pkg/data/clickhouse/headerrepo"
	"github.com/indexforge/header-indexer/pkg/kafka"
	"github.com/indexforge/header-indexer/pkg/utils"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	flushTimeoutOnClose = 15 * time.Second
	messageMaxBytes     = 10485760 // 10MB, must match the broker-side limit
)

func run(c *cli.Context) error {
	verbose := c.Bool("verbose")
	chainID := c.Uint64("chain-id")
	rpcURL := c.String("rpc-url")
	start := c.Uint64("start-height")
	end := c.Uint64("end-height")
	pollInterval := c.Duration("poll-interval")
	maxFailures := c.Int("max-failures")
	direct := c.Bool("direct")
	kafkaBrokers := c.String("kafka-brokers")
	kafkaTopic := c.String("kafka-topic")
	kafkaClientID := c.String("kafka-client-id")
	kafkaEnableLogs := c.Bool("kafka-enable-logs")
	headersTableName := c.String("headers-table-name")
	metricsHost := c.String("metrics-host")
	metricsPort := c.Int("metrics-port")
	environment := c.String("environment")

	sugar, err := utils.NewSugaredLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	chCfg := clickhouse.Load()

	sugar.Infow("config",
		"verbose", verbose,
		"chainID", chainID,
		"rpcURL", rpcURL,
		"start", start,
		"end", end,
		"pollInterval", pollInterval,
		"maxFailures", maxFailures,
		"direct", direct,
		"kafkaBrokers", kafkaBrokers,
		"kafkaTopic", kafkaTopic,
		"kafkaClientID", kafkaClientID,
		"headersTableName", headersTableName,
		"clickhouseHosts", chCfg.Hosts,
		"clickhouseDatabase", chCfg.Database,
		"metricsHost", metricsHost,
		"metricsPort", metricsPort,
		"environment", environment,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		EVMChainID:  chainID,
		Environment: environment,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", metricsHost, metricsPort)
	metricsServer := metrics.NewServer(metricsAddr, registry)
	metricsErrCh := metricsServer.Start()
	sugar.Infof("metrics server listening on http://%s/metrics", metricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize ClickHouse client
	chClient, err := clickhouse.New(chCfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	defer chClient.Close()

	headersRepo, err := headerrepo.New(ctx, chClient, headersTableName)
	if err != nil {
		return fmt.Errorf("failed to create headers repository: %w", err)
	}
	sugar.Infow("headers table ready", "tableName", headersTableName)

	chainClient, err := evm.New(ctx, rpcURL, evm.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	defer chainClient.Close()

	var publisher ingest.Publisher
	var producer *kafka.Producer
	if direct {
		publisher = ingest.NewStorePublisher(headersRepo, sugar, m)
	} else {
		producer, err = kafka.NewProducer(ctx, producerConfig(kafkaBrokers, kafkaClientID, kafkaEnableLogs), sugar, kafka.WithProducerMetrics(m))
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close(flushTimeoutOnClose)

		publisher = ingest.NewKafkaPublisher(producer, kafkaTopic)
	}

	ingester, err := ingest.New(sugar, chainClient, publisher, headersRepo, ingest.Config{
		StartHeight:  start,
		EndHeight:    end,
		PollInterval: pollInterval,
		MaxFailures:  maxFailures,
	}, ingest.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create ingester: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingester.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})
	if producer != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-producer.Errors():
				return err
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
	} else if err != nil {
		sugar.Errorw("run failed", "error", err)
	}

	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	return err
}

// producerConfig builds the Kafka producer ConfigMap
func producerConfig(brokers, clientID string, enableLogs bool) *confluentKafka.ConfigMap {
	return &confluentKafka.ConfigMap{
		// Required
		"bootstrap.servers": brokers,
		"client.id":         clientID,

		// Reliability: wait for all replicas to acknowledge
		"acks": "all",

		// Performance tuning
		"linger.ms":        5,     // Batch messages for 5ms
		"batch.size":       16384, // 16KB batch size
		"compression.type": "lz4", // Fast compression

		// Idempotence for exactly-once semantics
		"enable.idempotence": true,

		// Go channel for logs (optional, enable for debugging)
		"go.logs.channel.enable": enableLogs,
		"message.max.bytes":      messageMaxBytes,
	}
}
