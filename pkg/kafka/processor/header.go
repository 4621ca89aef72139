package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/internal/storage"
	"github.com/indexforge/header-indexer/pkg/kafka/messages"
	"github.com/indexforge/header-indexer/pkg/types"
)

// HeaderProcessor validates raw block messages and persists the resulting
// headers. A message that fails to decode or validate is returned as an
// error so the consumer can route it to the DLQ; store failures are returned
// the same way and retried via redelivery.
type HeaderProcessor struct {
	store   storage.HeaderStore
	log     *zap.SugaredLogger
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ Processor = (*HeaderProcessor)(nil)

// NewHeaderProcessor creates a processor writing to the given store.
func NewHeaderProcessor(store storage.HeaderStore, log *zap.SugaredLogger, m *metrics.Metrics) *HeaderProcessor {
	return &HeaderProcessor{
		store:   store,
		log:     log,
		metrics: m,
	}
}

// Process decodes, validates and persists a single raw block message.
func (p *HeaderProcessor) Process(ctx context.Context, msg *cKafka.Message) error {
	start := time.Now()

	raw, err := messages.UnmarshalRawBlock(msg.Value)
	if err != nil {
		p.log.Errorw("failed to decode raw block message",
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
			"error", err,
		)
		return fmt.Errorf("decode raw block: %w", err)
	}

	header, err := types.HeaderFromRaw(raw)
	p.metrics.RecordHeaderValidated(err, rejectedField(err))
	if err != nil {
		p.log.Errorw("raw block failed validation",
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
			"error", err,
		)
		return fmt.Errorf("validate raw block: %w", err)
	}

	if err := p.store.SaveHeader(ctx, header); err != nil {
		return fmt.Errorf("save header %s: %w", header.Hash.Hex(), err)
	}

	p.metrics.RecordHeaderSaved()
	p.metrics.ObserveHeaderProcessingDuration(time.Since(start).Seconds())

	p.log.Debugw("header persisted",
		"hash", header.Hash.Hex(),
		"number", header.Number,
	)
	return nil
}

// rejectedField extracts the offending field name from a validation error.
func rejectedField(err error) string {
	var fieldErr *types.FieldError
	if errors.As(err, &fieldErr) {
		return string(fieldErr.Field)
	}
	return ""
}
