package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Brokers are the Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the processing topic name.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing.
	BatchTimeout time.Duration
}

// KafkaPublisher implements Publisher on a Kafka topic. Messages are
// keyed by tenant so a tenant's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(config KafkaConfig) *KafkaPublisher {
	if config.Topic == "" {
		config.Topic = "event-processing"
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: writer}
}

// Publish sends one message to the processing topic.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "priority", Value: []byte(msg.Priority)},
		},
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
