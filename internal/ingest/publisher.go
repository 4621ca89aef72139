package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/internal/storage"
	"github.com/indexforge/header-indexer/pkg/kafka"
	"github.com/indexforge/header-indexer/pkg/kafka/messages"
	"github.com/indexforge/header-indexer/pkg/types"
)

// KafkaPublisher produces raw blocks to a Kafka topic, keyed by block hash
// so replays of the same block land on the same partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, raw *types.RawBlock) error {
	payload, err := messages.MarshalRawBlock(raw)
	if err != nil {
		return err
	}

	msg := kafka.Msg{
		Topic: p.topic,
		Value: payload,
	}
	if raw.Hash != nil {
		msg.Key = raw.Hash.Bytes()
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("produce raw block: %w", err)
	}
	return nil
}

// StorePublisher validates raw blocks and writes the resulting headers
// straight to a store, bypassing the queue. Used when running the fetcher
// and the indexer as a single process.
type StorePublisher struct {
	store   storage.HeaderStore
	log     *zap.SugaredLogger
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ Publisher = (*StorePublisher)(nil)

func NewStorePublisher(store storage.HeaderStore, log *zap.SugaredLogger, m *metrics.Metrics) *StorePublisher {
	return &StorePublisher{
		store:   store,
		log:     log,
		metrics: m,
	}
}

func (p *StorePublisher) Publish(ctx context.Context, raw *types.RawBlock) error {
	header, err := types.HeaderFromRaw(raw)
	p.metrics.RecordHeaderValidated(err, validationField(err))
	if err != nil {
		return fmt.Errorf("validate raw block: %w", err)
	}

	if err := p.store.SaveHeader(ctx, header); err != nil {
		return fmt.Errorf("save header %s: %w", header.Hash.Hex(), err)
	}

	p.metrics.RecordHeaderSaved()
	p.metrics.SetHeadNumber(header.Number)
	p.log.Debugw("header persisted", "hash", header.Hash.Hex(), "number", header.Number)
	return nil
}

func validationField(err error) string {
	var fieldErr *types.FieldError
	if errors.As(err, &fieldErr) {
		return string(fieldErr.Field)
	}
	return ""
}
