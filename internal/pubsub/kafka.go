package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// DefaultTopic is the Kafka topic batch events are written to
const DefaultTopic = "screener.batches"

// MessageWriter is the subset of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer that hashes keys to partitions
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher writes batch events keyed by batch ID
type KafkaPublisher struct {
	writer MessageWriter
	config PublisherConfig
}

// NewKafkaPublisher creates a publisher over writer
func NewKafkaPublisher(writer MessageWriter, config PublisherConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, config: config}
}

// PublishBatch writes one message per batch
func (p *KafkaPublisher) PublishBatch(ctx context.Context, batch *models.ScanBatch) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}
	data, err := marshalEvent(batch)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(batch.ID),
		Value: data,
		Time:  batch.CompletedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventBatchCompleted)},
		},
	}
	return withRetry(ctx, p.config, "kafka", batch.ID, func() error {
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to write kafka message: %w", err)
		}
		return nil
	})
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
