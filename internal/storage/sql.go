package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

var (
	batchWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_store_write_total",
			Help: "Total number of batch archive writes",
		},
		[]string{"driver", "status"},
	)

	batchWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_store_write_latency_seconds",
			Help:    "Batch archive write latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"driver"},
	)
)

// Driver names accepted by NewSQLBatchStore
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_batches (
		id           TEXT PRIMARY KEY,
		started_at   BIGINT NOT NULL,
		completed_at BIGINT NOT NULL,
		policy       TEXT NOT NULL,
		thresholds   TEXT NOT NULL,
		requested    INTEGER NOT NULL,
		candidates   TEXT NOT NULL,
		fallback     BOOLEAN NOT NULL,
		warnings     TEXT NOT NULL,
		error        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_batches_started ON scan_batches(started_at)`,
	`CREATE TABLE IF NOT EXISTS scan_rows (
		batch_id        TEXT NOT NULL,
		position        INTEGER NOT NULL,
		symbol          TEXT NOT NULL,
		observed_at     BIGINT NOT NULL,
		price           DOUBLE PRECISION NOT NULL,
		previous_close  DOUBLE PRECISION NOT NULL,
		change_pct      DOUBLE PRECISION NOT NULL,
		volume          DOUBLE PRECISION NOT NULL,
		avg_volume      DOUBLE PRECISION NOT NULL,
		rel_volume      DOUBLE PRECISION NOT NULL,
		float_text      TEXT NOT NULL,
		matches         BOOLEAN NOT NULL,
		basic           BOOLEAN NOT NULL,
		float_ok        BOOLEAN NOT NULL,
		enriched        BOOLEAN NOT NULL,
		catalyst        TEXT NOT NULL,
		catalyst_url    TEXT NOT NULL,
		PRIMARY KEY (batch_id, position)
	)`,
}

// WriteConfig holds retry settings for archive writes
type WriteConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	HistorySize int
}

// DefaultWriteConfig returns three attempts with a 100ms base delay
func DefaultWriteConfig() WriteConfig {
	return WriteConfig{MaxRetries: 3, RetryDelay: 100 * time.Millisecond, HistorySize: 20}
}

// SQLBatchStore archives batches in PostgreSQL or SQLite
type SQLBatchStore struct {
	db          *sql.DB
	driver      string
	writeConfig WriteConfig
}

// NewSQLBatchStore opens dsn with driver, verifies the connection and migrates the schema
func NewSQLBatchStore(driver, dsn string, writeConfig WriteConfig) (*SQLBatchStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	return newSQLBatchStore(db, driver, writeConfig)
}

func newSQLBatchStore(db *sql.DB, driver string, writeConfig WriteConfig) (*SQLBatchStore, error) {
	if writeConfig.MaxRetries <= 0 {
		writeConfig.MaxRetries = 1
	}
	if driver == DriverSQLite {
		// SQLite serializes writers
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLBatchStore{db: db, driver: driver, writeConfig: writeConfig}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromConfig builds the configured batch store. Driver "none" keeps batches in memory.
func NewFromConfig(cfg config.DatabaseConfig) (BatchStore, error) {
	wc := DefaultWriteConfig()
	if cfg.HistorySize > 0 {
		wc.HistorySize = cfg.HistorySize
	}

	switch cfg.Driver {
	case "", "none":
		return NewMemoryBatchStore(wc.HistorySize), nil
	case DriverSQLite:
		s, err := NewSQLBatchStore(DriverSQLite, cfg.Path, wc)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite batch archive", logger.String("path", cfg.Path))
		return s, nil
	case DriverPostgres:
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		s, err := NewSQLBatchStore(DriverPostgres, connStr, wc)
		if err != nil {
			return nil, err
		}
		s.db.SetMaxOpenConns(cfg.MaxConnections)
		s.db.SetMaxIdleConns(cfg.MaxIdleConns)
		s.db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		logger.Info("Connected to PostgreSQL batch archive",
			logger.String("host", cfg.Host),
			logger.Int("port", cfg.Port),
			logger.String("database", cfg.Database),
		)
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func (s *SQLBatchStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLBatchStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save writes the batch and its rows in one transaction, retrying with backoff
func (s *SQLBatchStore) Save(ctx context.Context, batch *models.ScanBatch) error {
	if batch == nil || batch.ID == "" {
		return ErrInvalidBatch
	}
	start := time.Now()

	var err error
	for attempt := 0; attempt < s.writeConfig.MaxRetries; attempt++ {
		err = s.insertBatch(ctx, batch)
		if err == nil {
			break
		}
		if attempt < s.writeConfig.MaxRetries-1 {
			delay := s.writeConfig.RetryDelay * time.Duration(1<<uint(attempt))
			logger.Warn("Failed to archive batch, retrying",
				logger.ErrorField(err),
				logger.Int("attempt", attempt+1),
				logger.BatchID(batch.ID),
				logger.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	batchWriteLatency.WithLabelValues(s.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		batchWriteTotal.WithLabelValues(s.driver, "error").Inc()
		return fmt.Errorf("failed to archive batch %s: %w", batch.ID, err)
	}
	batchWriteTotal.WithLabelValues(s.driver, "success").Inc()

	if s.writeConfig.HistorySize > 0 {
		if err := s.prune(ctx, s.writeConfig.HistorySize); err != nil {
			logger.Warn("Failed to prune batch archive", logger.ErrorField(err))
		}
	}
	return nil
}

func (s *SQLBatchStore) insertBatch(ctx context.Context, b *models.ScanBatch) error {
	thresholds, err := json.Marshal(b.Thresholds)
	if err != nil {
		return err
	}
	candidates, err := json.Marshal(nonNil(b.Candidates))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(b.Warnings))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scan_rows WHERE batch_id = ?`), b.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scan_batches WHERE id = ?`), b.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO scan_batches (id, started_at, completed_at, policy, thresholds, requested, candidates, fallback, warnings, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		b.ID,
		b.StartedAt.UnixNano(),
		b.CompletedAt.UnixNano(),
		string(b.Policy),
		string(thresholds),
		b.Requested,
		string(candidates),
		b.Fallback,
		string(warnings),
		b.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO scan_rows (batch_id, position, symbol, observed_at, price, previous_close, change_pct,
			volume, avg_volume, rel_volume, float_text, matches, basic, float_ok, enriched, catalyst, catalyst_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range b.Rows {
		_, err := stmt.ExecContext(ctx,
			b.ID, i, r.Symbol, r.ObservedAt.UnixNano(),
			r.Price, r.PreviousClose, r.ChangePct,
			r.Volume, r.AvgVolume, r.RelVolume,
			r.Float, r.MatchesCriteria, r.Criteria.Basic, r.Criteria.FloatOK,
			r.Enriched, r.Catalyst, r.CatalystURL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// prune keeps the keep most recently started batches
func (s *SQLBatchStore) prune(ctx context.Context, keep int) error {
	keepIDs := `SELECT id FROM scan_batches ORDER BY started_at DESC LIMIT ?`
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM scan_rows WHERE batch_id NOT IN (`+keepIDs+`)`), keep); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM scan_batches WHERE id NOT IN (`+keepIDs+`)`), keep)
	return err
}

const batchColumns = `id, started_at, completed_at, policy, thresholds, requested, candidates, fallback, warnings, error`

// Latest returns the most recently started batch
func (s *SQLBatchStore) Latest(ctx context.Context) (*models.ScanBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM scan_batches ORDER BY started_at DESC LIMIT 1`)
	return s.loadBatch(ctx, row)
}

// Get returns a batch by ID
func (s *SQLBatchStore) Get(ctx context.Context, id string) (*models.ScanBatch, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+batchColumns+` FROM scan_batches WHERE id = ?`), id)
	return s.loadBatch(ctx, row)
}

func (s *SQLBatchStore) loadBatch(ctx context.Context, row *sql.Row) (*models.ScanBatch, error) {
	var (
		b                                   models.ScanBatch
		started, completed                  int64
		policy, thresholds, cands, warnings string
	)
	err := row.Scan(&b.ID, &started, &completed, &policy, &thresholds, &b.Requested, &cands, &b.Fallback, &warnings, &b.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.StartedAt = time.Unix(0, started).UTC()
	b.CompletedAt = time.Unix(0, completed).UTC()
	b.Policy = models.MatchPolicy(policy)
	if err := json.Unmarshal([]byte(thresholds), &b.Thresholds); err != nil {
		return nil, fmt.Errorf("failed to decode thresholds: %w", err)
	}
	if err := json.Unmarshal([]byte(cands), &b.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &b.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if len(b.Warnings) == 0 {
		b.Warnings = nil
	}

	rows, err := s.loadRows(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Rows = rows
	return &b, nil
}

func (s *SQLBatchStore) loadRows(ctx context.Context, batchID string) ([]models.ScanRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT symbol, observed_at, price, previous_close, change_pct, volume, avg_volume, rel_volume,
			float_text, matches, basic, float_ok, enriched, catalyst, catalyst_url
		FROM scan_rows
		WHERE batch_id = ?
		ORDER BY position ASC
	`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	out := make([]models.ScanRow, 0)
	for rows.Next() {
		var (
			r        models.ScanRow
			observed int64
		)
		if err := rows.Scan(
			&r.Symbol,
			&observed,
			&r.Price,
			&r.PreviousClose,
			&r.ChangePct,
			&r.Volume,
			&r.AvgVolume,
			&r.RelVolume,
			&r.Float,
			&r.MatchesCriteria,
			&r.Criteria.Basic,
			&r.Criteria.FloatOK,
			&r.Enriched,
			&r.Catalyst,
			&r.CatalystURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.ObservedAt = time.Unix(0, observed).UTC()
		r.Criteria.Overall = r.MatchesCriteria
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// List returns up to limit summaries, newest first
func (s *SQLBatchStore) List(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = s.writeConfig.HistorySize
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT b.id, b.started_at, b.completed_at, b.policy, b.requested, b.fallback, b.error,
			(SELECT COUNT(*) FROM scan_rows r WHERE r.batch_id = b.id),
			(SELECT COUNT(*) FROM scan_rows r WHERE r.batch_id = b.id AND r.matches)
		FROM scan_batches b
		ORDER BY b.started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	out := make([]BatchSummary, 0)
	for rows.Next() {
		var (
			sum                BatchSummary
			started, completed int64
			policy             string
		)
		if err := rows.Scan(&sum.ID, &started, &completed, &policy, &sum.Requested, &sum.Fallback, &sum.Error, &sum.Rows, &sum.Matches); err != nil {
			return nil, fmt.Errorf("failed to scan batch summary: %w", err)
		}
		sum.StartedAt = time.Unix(0, started).UTC()
		sum.CompletedAt = time.Unix(0, completed).UTC()
		sum.Policy = models.MatchPolicy(policy)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLBatchStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
