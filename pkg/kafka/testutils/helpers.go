// Package testutils provides shared fixtures for the kafka package tests.
package testutils

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger returns a sugared logger whose output is routed through t.
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewTestMessage builds a Kafka message at the given topic/partition/offset,
// the shape the raw-block consumer sees from Poll.
func NewTestMessage(topic string, partition int32, offset int64, key, value []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: partition,
			Offset:    kafka.Offset(offset),
		},
		Key:   key,
		Value: value,
	}
}
