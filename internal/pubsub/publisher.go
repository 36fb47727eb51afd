package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_publish_total",
			Help: "Total number of batch events published",
		},
		[]string{"backend"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_publish_errors_total",
			Help: "Total number of batch publish errors",
		},
		[]string{"backend"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_publish_latency_seconds",
			Help:    "Publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"backend"},
	)
)

// EventBatchCompleted is the type of every published event
const EventBatchCompleted = "batch_completed"

// BatchEvent announces a committed batch
type BatchEvent struct {
	Type        string            `json:"type"`
	BatchID     string            `json:"batch_id"`
	CompletedAt time.Time         `json:"completed_at"`
	Rows        int               `json:"rows"`
	Matches     []string          `json:"matches"`
	Fallback    bool              `json:"fallback"`
	Batch       *models.ScanBatch `json:"batch"`
}

// NewBatchEvent builds the event for batch
func NewBatchEvent(batch *models.ScanBatch) BatchEvent {
	matches := make([]string, 0)
	for _, row := range batch.Matches() {
		matches = append(matches, row.Symbol)
	}
	return BatchEvent{
		Type:        EventBatchCompleted,
		BatchID:     batch.ID,
		CompletedAt: batch.CompletedAt,
		Rows:        len(batch.Rows),
		Matches:     matches,
		Fallback:    batch.Fallback,
		Batch:       batch,
	}
}

// Publisher announces completed batches
type Publisher interface {
	PublishBatch(ctx context.Context, batch *models.ScanBatch) error
	Close() error
}

// PublisherConfig holds retry settings shared by the publishers
type PublisherConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// withRetry runs publish with linear backoff and records metrics under backend
func withRetry(ctx context.Context, cfg PublisherConfig, backend string, batchID string, publish func() error) error {
	start := time.Now()
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = publish()
		if err == nil {
			break
		}
		if attempt < attempts-1 {
			logger.Warn("Failed to publish batch, retrying",
				logger.ErrorField(err),
				logger.String("backend", backend),
				logger.BatchID(batchID),
				logger.Int("attempt", attempt+1),
			)
			select {
			case <-time.After(cfg.RetryDelay * time.Duration(attempt+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err != nil {
		publishErrors.WithLabelValues(backend).Inc()
		return err
	}
	publishTotal.WithLabelValues(backend).Inc()
	publishLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	logger.Debug("Published batch",
		logger.String("backend", backend),
		logger.BatchID(batchID),
		logger.Duration("latency", time.Since(start)),
	)
	return nil
}

// NopPublisher discards events
type NopPublisher struct{}

// PublishBatch does nothing
func (NopPublisher) PublishBatch(context.Context, *models.ScanBatch) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }

// NewFromConfig builds the configured publisher. rdb is required for the redis backend.
func NewFromConfig(cfg config.EventsConfig, rdb *redis.Client) (Publisher, error) {
	pc := DefaultPublisherConfig()
	switch cfg.Backend {
	case "", "none":
		return NopPublisher{}, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis events backend requires a redis client")
		}
		logger.Info("Publishing batches to Redis stream", logger.String("stream", cfg.Stream))
		return NewStreamPublisher(rdb, cfg.Stream, pc), nil
	case "kafka":
		logger.Info("Publishing batches to Kafka",
			logger.Strings("brokers", cfg.KafkaBrokers),
			logger.String("topic", cfg.KafkaTopic),
		)
		return NewKafkaPublisher(NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), pc), nil
	default:
		return nil, fmt.Errorf("unknown events backend: %s", cfg.Backend)
	}
}

func marshalEvent(batch *models.ScanBatch) ([]byte, error) {
	data, err := json.Marshal(NewBatchEvent(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch event: %w", err)
	}
	return data, nil
}
