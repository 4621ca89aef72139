package kafka

import (
	"context"
	"fmt"
	"sync"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/pkg/kafka/processor"
)

// Consumer consumes raw block messages from Kafka, hands them to a
// processor, and routes failures to the DLQ.
type Consumer struct {
	processor         processor.Processor
	consumer          *cKafka.Consumer
	dlqProducer       *Producer
	log               *zap.SugaredLogger
	metrics           *metrics.Metrics // nil if metrics disabled
	rebalanceContexts map[int32]rebalanceCtx
	rebalanceMutex    sync.RWMutex
	sem               *semaphore.Weighted
	offsetManager     *OffsetManager
	logsDone          chan struct{}
	doneCh            chan struct{}
	errCh             chan error
	cfg               ConsumerConfig
}

type rebalanceCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// ConsumerOption configures the Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerMetrics enables message processing metrics for the consumer.
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer creates a new Consumer.
func NewConsumer(
	ctx context.Context,
	log *zap.SugaredLogger,
	cfg ConsumerConfig,
	proc processor.Processor,
	opts ...ConsumerOption,
) (*Consumer, error) {
	cfg = cfg.WithDefaults()

	consumerConfig := cKafka.ConfigMap{
		"bootstrap.servers":             cfg.BootstrapServers,
		"group.id":                      cfg.GroupID,
		"auto.offset.reset":             cfg.AutoOffsetReset,
		"enable.auto.commit":            false,
		"session.timeout.ms":            int(cfg.SessionTimeout.Milliseconds()),
		"max.poll.interval.ms":          int(cfg.MaxPollInterval.Milliseconds()),
		"partition.assignment.strategy": "roundrobin",
		"go.logs.channel.enable":        cfg.EnableLogs,
	}
	consumer, err := cKafka.NewConsumer(&consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	dlqProducerConfig := cKafka.ConfigMap{
		"bootstrap.servers":      cfg.BootstrapServers,
		"acks":                   "all",
		"linger.ms":              5,
		"batch.size":             16384,
		"compression.type":       "lz4",
		"enable.idempotence":     true,
		"go.logs.channel.enable": cfg.EnableLogs,
	}
	dlqProducer, err := NewProducer(ctx, &dlqProducerConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	offsetManager := NewOffsetManager(
		ctx,
		consumer,
		cfg.OffsetManagerCommitInterval,
		cfg.AutoOffsetReset,
		false,
		log,
	)

	c := &Consumer{
		consumer:          consumer,
		dlqProducer:       dlqProducer,
		log:               log,
		cfg:               cfg,
		sem:               semaphore.NewWeighted(cfg.Concurrency),
		rebalanceContexts: make(map[int32]rebalanceCtx),
		offsetManager:     offsetManager,
		logsDone:          make(chan struct{}),
		errCh:             make(chan error, cfg.Concurrency),
		doneCh:            make(chan struct{}),
		processor:         proc,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Start begins consuming messages from the configured topic.
// Start blocks until the context is canceled or a fatal error occurs.
func (c *Consumer) Start(ctx context.Context) error {
	ctxWithCancel, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.cfg.IsDLQConsumer {
		c.log.Warnw("consumer is subscribing to a DLQ topic - messages will NOT be re-sent to DLQ on failure",
			"topic", c.cfg.Topic,
		)
	}

	// start kafka logs printing if enabled
	if c.cfg.EnableLogs {
		go c.printKafkaLogs(ctxWithCancel)
	} else {
		close(c.logsDone)
	}

	if err := c.consumer.SubscribeTopics([]string{c.cfg.Topic}, c.getRebalanceCallback(ctxWithCancel)); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	pollTimeoutMs := int(c.cfg.PollInterval.Milliseconds())

	run := true
	for run {
		select {
		case <-ctx.Done():
			c.log.Info("context done, shutting down consumer...")
			run = false
			continue
		case err := <-c.dlqProducer.Errors():
			c.log.Errorw("fatal error from DLQ producer, shutting down consumer", "error", err)
			run = false
			continue
		case err := <-c.errCh:
			c.log.Errorw("error from consumer, shutting down consumer", "error", err)
			run = false
			continue
		default:
			ev := c.consumer.Poll(pollTimeoutMs)
			if ev == nil {
				continue
			}

			switch msg := ev.(type) {
			case *cKafka.Message:
				c.metrics.RecordMessageReceived(msg.TopicPartition.Partition)
				c.rebalanceMutex.RLock()
				if _, ok := c.rebalanceContexts[msg.TopicPartition.Partition]; !ok {
					c.log.Errorw("partition not found in rebalance context", "partition", msg.TopicPartition.Partition)
					c.rebalanceMutex.RUnlock()
					continue
				}
				// if the context is cancelled during dispatch, the offset commit will fail and
				// the msg will be reprocessed on restart
				c.dispatch(c.rebalanceContexts[msg.TopicPartition.Partition].ctx, msg)
				c.rebalanceMutex.RUnlock()
			case cKafka.Error:
				if msg.IsFatal() {
					c.metrics.RecordKafkaError(true)
					c.log.Errorw("fatal kafka error", "error", msg)
					run = false
					continue
				}
				c.metrics.RecordKafkaError(false)
				c.log.Warnw("kafka error (non-fatal)", "error", msg)
				continue
			default:
				c.log.Debugw("ignoring kafka event", "event", msg)
			}
		}
	}

	// Processing is at-least-once: in-flight goroutines whose offsets never
	// get committed are simply reprocessed on restart.

	err := c.close()
	if err != nil {
		c.log.Errorw("failed to close consumer", "error", err)
	}

	c.log.Info("consumer shutdown complete")
	return err
}

// dispatch acquires a semaphore slot and processes the message in a goroutine.
func (c *Consumer) dispatch(ctx context.Context, msg *cKafka.Message) {
	// Acquire semaphore (blocks if max concurrency reached)
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.sendErr(fmt.Errorf("failed to acquire semaphore: %w", err))
		return
	}

	c.metrics.IncMessagesInFlight()

	go func() {
		defer c.sem.Release(1)
		defer c.metrics.DecMessagesInFlight()

		err := c.processor.Process(ctx, msg)
		c.metrics.RecordMessageProcessed(msg.TopicPartition.Partition, err)
		if err != nil {
			if !c.cfg.IsDLQConsumer {
				publishErr := c.publishToDLQ(ctx, msg)
				if publishErr != nil {
					c.log.Errorw("failed to publish to DLQ", "error", publishErr)
					c.sendErr(publishErr)
					return
				}
			} else {
				c.sendErr(err)
				return
			}
		}
		c.offsetManager.InsertOffsetWithRetry(ctx, msg)
	}()
}

// sendErr delivers an error to the poll loop without blocking. The poll loop
// exits on the first error it reads, so later errors may find the channel
// full; dropping them keeps failed processing goroutines from hanging.
func (c *Consumer) sendErr(err error) {
	select {
	case c.errCh <- err:
	default:
		c.log.Warnf("error channel is full, dropping: %v", err)
	}
}

// publishToDLQ sends a failed message to the dead letter queue.
func (c *Consumer) publishToDLQ(ctx context.Context, msg *cKafka.Message) error {
	if c.cfg.DLQTopic == "" {
		return fmt.Errorf("DLQ topic not configured")
	}

	dlqMsg := Msg{
		Topic: c.cfg.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
	}

	if err := c.dlqProducer.Produce(ctx, dlqMsg); err != nil {
		return fmt.Errorf("failed to produce to DLQ: %w", err)
	}

	c.log.Infow("published message to DLQ",
		"originalTopic", *msg.TopicPartition.Topic,
		"originalPartition", msg.TopicPartition.Partition,
		"originalOffset", msg.TopicPartition.Offset,
		"dlqTopic", c.cfg.DLQTopic,
	)

	return nil
}

// close shuts down the consumer and DLQ producer.
func (c *Consumer) close() error {
	close(c.doneCh)
	<-c.logsDone
	c.dlqProducer.Close(*c.cfg.FlushTimeout)
	return c.consumer.Close()
}

// rebalanceCallback handles partition assignment and revocation.
func (c *Consumer) getRebalanceCallback(ctx context.Context) cKafka.RebalanceCb {
	return func(kc *cKafka.Consumer, event cKafka.Event) error {
		c.rebalanceMutex.Lock()
		defer c.rebalanceMutex.Unlock()

		switch ev := event.(type) {
		case cKafka.AssignedPartitions:
			c.log.Infow("partitions assigned",
				"protocol", kc.GetRebalanceProtocol(),
				"count", len(ev.Partitions),
				"partitions", ev.Partitions,
			)
			for _, partition := range ev.Partitions {
				rCtx := rebalanceCtx{}
				rCtx.ctx, rCtx.cancel = context.WithCancel(ctx)
				c.rebalanceContexts[partition.Partition] = rCtx
			}

		case cKafka.RevokedPartitions:
			c.log.Infow("partitions revoked",
				"protocol", kc.GetRebalanceProtocol(),
				"count", len(ev.Partitions),
				"partitions", ev.Partitions,
			)

			if kc.AssignmentLost() {
				c.log.Error("assignment lost involuntarily, commit may fail")
			}

			for _, partition := range ev.Partitions {
				c.rebalanceContexts[partition.Partition].cancel()
				c.log.Debugf("revoked partition %d. Context %+v canceled",
					partition.Partition,
					c.rebalanceContexts[partition.Partition],
				)
				delete(c.rebalanceContexts, partition.Partition)
			}
		default:
			c.log.Warnw("unexpected rebalance event", "event", event)
		}
		return c.offsetManager.RebalanceCb(kc, event)
	}
}

// printKafkaLogs prints kafka logs to the console.
func (c *Consumer) printKafkaLogs(ctx context.Context) {
	defer close(c.logsDone)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka logs printing for consumer")
			return
		case <-c.doneCh:
			c.log.Info("stopping kafka logs printing for consumer, done channel closed")
			return
		case log, ok := <-c.consumer.Logs():
			if !ok {
				c.log.Info("kafka logs printing for consumer, event channel closed")
				return
			}
			c.log.Debugf("consumer level: %d tag: %s message: %s ", log.Level, log.Tag, log.Message)
		}
	}
}
