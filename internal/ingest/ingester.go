// Package ingest drives the fetch side of the pipeline: it walks the chain
// from the last persisted head to the node's tip, publishing every raw block
// it sees.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/indexforge/header-indexer/internal/chainclient"
	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/internal/storage"
	"github.com/indexforge/header-indexer/pkg/types"
)

// Publisher hands a fetched raw block to the next pipeline stage.
type Publisher interface {
	Publish(ctx context.Context, raw *types.RawBlock) error
}

var (
	ErrInvalidLogger      = errors.New("invalid logger: must not be nil")
	ErrInvalidChainClient = errors.New("invalid chain client: must not be nil")
	ErrInvalidPublisher   = errors.New("invalid publisher: must not be nil")
	ErrInvalidInterval    = errors.New("invalid poll interval: must be greater than 0")
	ErrInvalidHeightRange = errors.New("invalid height range: end must not be below start")
)

// Config controls the ingestion range and pacing.
type Config struct {
	// StartHeight is where ingestion begins when the store is empty. A
	// persisted head always takes precedence.
	StartHeight uint64
	// EndHeight, when non-zero, makes the run a bounded backfill that
	// returns once the height is ingested.
	EndHeight uint64
	// PollInterval is the pacing of tip checks while caught up.
	PollInterval time.Duration
	// MaxFailures is the number of consecutive RPC failures tolerated
	// before the run aborts. Zero means abort on the first failure.
	MaxFailures int
}

// Ingester walks the chain sequentially and publishes each raw block.
// Heights are only advanced past blocks that were published, so a crash
// never leaves a gap: the next run resumes from the persisted head.
type Ingester struct {
	chain     chainclient.ChainClient
	publisher Publisher
	heads     storage.HeadStore
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics // nil if metrics disabled
	cfg       Config
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithMetrics enables pipeline metrics for the ingester.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingester) {
		i.metrics = m
	}
}

// New creates an Ingester. The head store is optional; without one the run
// always starts at cfg.StartHeight.
func New(
	log *zap.SugaredLogger,
	chain chainclient.ChainClient,
	publisher Publisher,
	heads storage.HeadStore,
	cfg Config,
	opts ...Option,
) (*Ingester, error) {
	if log == nil {
		return nil, ErrInvalidLogger
	}
	if chain == nil {
		return nil, ErrInvalidChainClient
	}
	if publisher == nil {
		return nil, ErrInvalidPublisher
	}
	if cfg.PollInterval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.EndHeight != 0 && cfg.EndHeight < cfg.StartHeight {
		return nil, ErrInvalidHeightRange
	}

	ing := &Ingester{
		chain:     chain,
		publisher: publisher,
		heads:     heads,
		log:       log,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// Run ingests blocks until the context is canceled, the configured end
// height is reached, or too many consecutive RPC failures occur.
func (i *Ingester) Run(ctx context.Context) error {
	next, err := i.resolveStart(ctx)
	if err != nil {
		return err
	}

	i.log.Infow("starting ingestion",
		"startHeight", next,
		"endHeight", i.cfg.EndHeight,
		"pollInterval", i.cfg.PollInterval,
	)

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		advanced, err := i.ingestRange(ctx, &next)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures > i.cfg.MaxFailures {
				return fmt.Errorf("aborting after %d consecutive failures: %w", failures, err)
			}
			i.log.Warnw("ingestion pass failed, will retry",
				"height", next,
				"failures", failures,
				"error", err,
			)
		} else if advanced {
			failures = 0
		}

		if i.cfg.EndHeight != 0 && next > i.cfg.EndHeight {
			i.log.Infow("backfill complete", "endHeight", i.cfg.EndHeight)
			return nil
		}

		select {
		case <-ctx.Done():
			i.log.Info("ingestion stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ingestRange publishes every block from *next up to the node's tip (or the
// configured end height), advancing *next past each published block. It
// stops early without error when it runs into a block the node has not
// sealed yet.
func (i *Ingester) ingestRange(ctx context.Context, next *uint64) (bool, error) {
	latest, err := i.chain.LatestNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("get latest height: %w", err)
	}
	i.metrics.SetChainTip(latest)

	end := latest
	if i.cfg.EndHeight != 0 && i.cfg.EndHeight < end {
		end = i.cfg.EndHeight
	}

	advanced := false
	for *next <= end {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}

		start := time.Now()
		raw, err := i.chain.BlockByNumber(ctx, *next)
		if err != nil {
			if errors.Is(err, chainclient.ErrBlockNotFound) {
				// The tip moved backwards or the node is lagging its own
				// reported height. Retry on the next tick.
				i.log.Debugw("block not available yet", "height", *next)
				return advanced, nil
			}
			return advanced, fmt.Errorf("fetch block %d: %w", *next, err)
		}

		if raw.Hash == nil || raw.Number == nil {
			// A pending block: mandatory fields are not populated until the
			// block is sealed. Leave the cursor in place and retry.
			i.metrics.IncPendingBlocks()
			i.log.Infow("skipping pending block", "height", *next)
			return advanced, nil
		}

		if err := i.publisher.Publish(ctx, raw); err != nil {
			return advanced, fmt.Errorf("publish block %d: %w", *next, err)
		}

		i.metrics.ObserveHeaderProcessingDuration(time.Since(start).Seconds())
		i.log.Debugw("block published", "height", *next, "hash", raw.Hash.Hex())
		*next++
		advanced = true
	}

	return advanced, nil
}

// resolveStart picks the first height to ingest: one past the persisted
// head when it is ahead of the configured start, the configured start
// otherwise.
func (i *Ingester) resolveStart(ctx context.Context) (uint64, error) {
	if i.heads == nil {
		return i.cfg.StartHeight, nil
	}

	head, err := i.heads.Head(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve resume height: %w", err)
	}
	if head == nil {
		return i.cfg.StartHeight, nil
	}

	i.metrics.SetHeadNumber(head.Number)
	if head.Number+1 > i.cfg.StartHeight {
		return head.Number + 1, nil
	}
	return i.cfg.StartHeight, nil
}
