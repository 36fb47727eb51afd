package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// DefaultStream is the stream batch events are appended to
const DefaultStream = "screener.batches"

// streamMaxLen caps the stream so it does not grow without bound
const streamMaxLen = 1000

// StreamPublisher appends batch events to a Redis stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	config PublisherConfig
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(client *redis.Client, stream string, config PublisherConfig) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{client: client, stream: stream, config: config}
}

// PublishBatch XADDs the event with the batch ID as a separate field
func (p *StreamPublisher) PublishBatch(ctx context.Context, batch *models.ScanBatch) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}
	data, err := marshalEvent(batch)
	if err != nil {
		return err
	}

	return withRetry(ctx, p.config, "redis", batch.ID, func() error {
		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"type":     EventBatchCompleted,
				"batch_id": batch.ID,
				"event":    string(data),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
		}
		return nil
	})
}

// Stream returns the stream name
func (p *StreamPublisher) Stream() string {
	return p.stream
}

// Close is a no-op; the Redis client is owned by the caller
func (p *StreamPublisher) Close() error { return nil }
