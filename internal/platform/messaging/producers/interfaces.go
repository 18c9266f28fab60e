package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publisher writes JSON values to one topic. Job requests and audit events
// carry the correlation id of the request that caused them as a header.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	PublishWithCorrelation(ctx context.Context, key string, value interface{}, correlationID string) error
	Close() error
}

// DeadLetterPublisher parks job messages the worker cannot decode or validate
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter is the subset of *kafka.Writer the producers use
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var (
	_ KafkaWriter = (*kafka.Writer)(nil)
	_ Publisher   = (*TopicProducer)(nil)
)
