package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wonny/otcseller/internal/contracts"
)

// messageWriter is the subset of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic, keyed by order uid so a partition
// sees one order's events in order
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a synchronous producer acknowledged by all replicas
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Name implements Sink
func (k *KafkaSink) Name() string { return "kafka" }

// Publish implements contracts.EventSink
func (k *KafkaSink) Publish(ctx context.Context, events ...contracts.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := Encode(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", e.Name, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.OrderUID.Hex()),
			Value:   value,
			Headers: []kafka.Header{{Key: "event", Value: []byte(e.Name)}},
			Time:    e.Timestamp,
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
