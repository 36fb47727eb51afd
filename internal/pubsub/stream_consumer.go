package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// BatchHandler receives batches read back from the stream
type BatchHandler interface {
	PublishBatch(ctx context.Context, batch *models.ScanBatch) error
}

// StreamConsumerConfig holds configuration for the stream consumer
type StreamConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	Count         int64
	BlockTime     time.Duration
	RetryDelay    time.Duration
}

// DefaultStreamConsumerConfig returns default configuration
func DefaultStreamConsumerConfig(streamName, consumerGroup, consumerName string) StreamConsumerConfig {
	if streamName == "" {
		streamName = DefaultStream
	}
	return StreamConsumerConfig{
		StreamName:    streamName,
		ConsumerGroup: consumerGroup,
		ConsumerName:  consumerName,
		Count:         10,
		BlockTime:     time.Second,
		RetryDelay:    time.Second,
	}
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesFailed    int64
	LastBatchID       string
	LastMessageTime   time.Time
}

// StreamConsumer reads batch events from a Redis stream consumer group
type StreamConsumer struct {
	config  StreamConsumerConfig
	client  *redis.Client
	handler BatchHandler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stats   ConsumerStats
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(client *redis.Client, handler BatchHandler, config StreamConsumerConfig) *StreamConsumer {
	return &StreamConsumer{
		config:  config,
		client:  client,
		handler: handler,
	}
}

// Start creates the consumer group and starts the read loop
func (c *StreamConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	logger.Info("Starting stream consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
	)

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop stops the consumer and waits for the read loop to exit
func (c *StreamConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	logger.Info("Stream consumer stopped")
}

// ensureGroup creates the group at the stream tail; BUSYGROUP means it exists
func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.StreamName, c.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := c.Poll(ctx, c.config.BlockTime); err != nil {
			if ctx.Err() != nil {
				return
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				logger.Warn("Consumer group not found, recreating",
					logger.String("stream", c.config.StreamName),
					logger.String("group", c.config.ConsumerGroup),
				)
				if gerr := c.ensureGroup(ctx); gerr != nil {
					logger.Error("Failed to recreate consumer group", logger.ErrorField(gerr))
				}
			} else {
				logger.Error("Error reading from stream",
					logger.ErrorField(err),
					logger.String("stream", c.config.StreamName),
				)
			}
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Poll reads one round of new messages, hands each batch to the handler
// and acknowledges it. A negative block returns immediately.
func (c *StreamConsumer) Poll(ctx context.Context, block time.Duration) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.config.StreamName, ">"},
		Count:    c.config.Count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if c.handle(ctx, message) {
				handled++
			}
			// Undecodable messages are acked too; redelivery cannot fix them.
			if err := c.client.XAck(ctx, stream.Stream, c.config.ConsumerGroup, message.ID).Err(); err != nil {
				logger.Error("Failed to acknowledge message",
					logger.ErrorField(err),
					logger.String("message_id", message.ID),
				)
			}
		}
	}
	return handled, nil
}

func (c *StreamConsumer) handle(ctx context.Context, message redis.XMessage) bool {
	event, err := DecodeEvent(message.Values)
	if err != nil {
		logger.Error("Failed to decode batch event",
			logger.ErrorField(err),
			logger.String("message_id", message.ID),
		)
		c.record("", false)
		return false
	}

	if err := c.handler.PublishBatch(ctx, event.Batch); err != nil {
		logger.Error("Failed to handle batch event",
			logger.ErrorField(err),
			logger.BatchID(event.BatchID),
		)
		c.record(event.BatchID, false)
		return false
	}
	c.record(event.BatchID, true)
	return true
}

// DecodeEvent parses the event field written by StreamPublisher
func DecodeEvent(values map[string]interface{}) (*BatchEvent, error) {
	raw, ok := values["event"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("no event data found in message")
	}
	var event BatchEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch event: %w", err)
	}
	if event.Batch == nil {
		return nil, fmt.Errorf("batch event %s has no batch", event.BatchID)
	}
	return &event, nil
}

func (c *StreamConsumer) record(batchID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.stats.MessagesFailed++
		return
	}
	c.stats.MessagesProcessed++
	c.stats.LastBatchID = batchID
	c.stats.LastMessageTime = time.Now()
}

// GetStats returns current consumer statistics
func (c *StreamConsumer) GetStats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// IsRunning returns whether the consumer is running
func (c *StreamConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
