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

	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/pkg/clickhouse"
	"github.com/indexforge/header-indexer/pkg/data/clickhouse/headerrepo"
	"github.com/indexforge/header-indexer/pkg/kafka"
	"github.com/indexforge/header-indexer/pkg/kafka/processor"
	"github.com/indexforge/header-indexer/pkg/utils"
)

func run(c *cli.Context) error {
	verbose := c.Bool("verbose")
	chainID := c.Uint64("chain-id")
	headersTableName := c.String("headers-table-name")
	metricsHost := c.String("metrics-host")
	metricsPort := c.Int("metrics-port")
	environment := c.String("environment")

	sugar, err := utils.NewSugaredLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	kafkaCfg := kafka.LoadConsumerConfig()
	chCfg := clickhouse.Load()

	sugar.Infow("config",
		"verbose", verbose,
		"chainID", chainID,
		"bootstrapServers", kafkaCfg.BootstrapServers,
		"groupID", kafkaCfg.GroupID,
		"topic", kafkaCfg.Topic,
		"dlqTopic", kafkaCfg.DLQTopic,
		"autoOffsetReset", kafkaCfg.AutoOffsetReset,
		"concurrency", kafkaCfg.Concurrency,
		"offsetCommitInterval", kafkaCfg.OffsetManagerCommitInterval,
		"isDLQConsumer", kafkaCfg.IsDLQConsumer,
		"clickhouseHosts", chCfg.Hosts,
		"clickhouseDatabase", chCfg.Database,
		"headersTableName", headersTableName,
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

	proc := processor.NewHeaderProcessor(headersRepo, sugar, m)

	consumer, err := kafka.NewConsumer(ctx, sugar, kafkaCfg, proc, kafka.WithConsumerMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
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
