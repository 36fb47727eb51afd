package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// ErrInvalidBatch is returned when saving a nil batch or one without an ID
var ErrInvalidBatch = errors.New("invalid batch")

// BatchStore defines the interface for the scan batch archive
type BatchStore interface {
	// Save archives a completed batch. Saving the same ID again replaces it.
	Save(ctx context.Context, batch *models.ScanBatch) error

	// Latest returns the most recently started batch
	Latest(ctx context.Context) (*models.ScanBatch, error)

	// Get returns a batch by ID, or models.ErrBatchNotFound
	Get(ctx context.Context, id string) (*models.ScanBatch, error)

	// List returns summaries of the most recent batches, newest first
	List(ctx context.Context, limit int) ([]BatchSummary, error)

	// Close releases the store
	Close() error
}

// BatchSummary describes an archived batch without its rows
type BatchSummary struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Policy      models.MatchPolicy `json:"policy"`
	Requested   int                `json:"requested"`
	Rows        int                `json:"rows"`
	Matches     int                `json:"matches"`
	Fallback    bool               `json:"fallback"`
	Error       string             `json:"error,omitempty"`
}

// Summarize builds the summary of a batch
func Summarize(b *models.ScanBatch) BatchSummary {
	return BatchSummary{
		ID:          b.ID,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
		Policy:      b.Policy,
		Requested:   b.Requested,
		Rows:        len(b.Rows),
		Matches:     len(b.Matches()),
		Fallback:    b.Fallback,
		Error:       b.Error,
	}
}
