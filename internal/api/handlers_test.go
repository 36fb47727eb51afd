package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/screener"
	"github.com/mohamedkhairy/momentum-screener/internal/storage"
	"github.com/mohamedkhairy/momentum-screener/internal/tickers"
)

type fakeScanner struct {
	mu         sync.Mutex
	current    *models.ScanBatch
	next       *models.ScanBatch
	err        error
	lastOpts   screener.RunOptions
	lastTarget []string
	lastCtxErr error
}

func (f *fakeScanner) run(opts screener.RunOptions, symbols []string) (*models.ScanBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	f.lastTarget = symbols
	if f.err != nil {
		return &models.ScanBatch{ID: "failed", Rows: []models.ScanRow{}, Error: f.err.Error()}, f.err
	}
	f.current = f.next
	return f.next.Clone(), nil
}

func (f *fakeScanner) RunScan(ctx context.Context, opts screener.RunOptions) (*models.ScanBatch, error) {
	f.observe(ctx)
	return f.run(opts, nil)
}

func (f *fakeScanner) RunScanWithTargetSet(ctx context.Context, symbols []string, opts screener.RunOptions) (*models.ScanBatch, error) {
	f.observe(ctx)
	return f.run(opts, symbols)
}

func (f *fakeScanner) observe(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCtxErr = ctx.Err()
}

func (f *fakeScanner) Current() *models.ScanBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

func (f *fakeScanner) Stage() screener.Stage { return screener.StageIdle }
func (f *fakeScanner) GetStats() screener.Stats { return screener.Stats{Runs: 3, Failed: 1} }

func (f *fakeScanner) Thresholds() models.CriteriaThresholds {
	return models.CriteriaThresholds{MinPrice: 2, MaxPrice: 50, MinChangePct: 10, MinRelVolume: 5, MaxFloat: 50e6}
}

func (f *fakeScanner) Policy() models.MatchPolicy { return models.PolicyFloatRequired }

type fakeTickers struct {
	size     int
	shuffled int
}

func (f *fakeTickers) Current(context.Context) tickers.Result {
	return tickers.Result{Symbols: []string{"ACME", "BORE"}, Universe: 10}
}

func (f *fakeTickers) ShuffleN(_ context.Context, n int) tickers.Result {
	f.shuffled++
	f.size = n
	syms := make([]string, n)
	for i := range syms {
		syms[i] = fmt.Sprintf("T%d", i)
	}
	return tickers.Result{Symbols: syms, Universe: 10, Fallback: true, Warning: models.ErrAcquisition}
}

func (f *fakeTickers) Size() int { return f.size }

func sampleBatch(id string) *models.ScanBatch {
	return &models.ScanBatch{
		ID:          id,
		StartedAt:   time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2025, 3, 14, 14, 0, 5, 0, time.UTC),
		Policy:      models.PolicyFloatRequired,
		Rows: []models.ScanRow{
			{Symbol: "BORE", Price: 120, ChangePct: 0.4, RelVolume: 0.9},
			{Symbol: "ACME", Price: 4.2, ChangePct: 31.5, RelVolume: 7.1, MatchesCriteria: true},
			{Symbol: "ACMX", Price: 9.9, ChangePct: 12.1, RelVolume: 11},
		},
	}
}

type scanBody struct {
	ID         string           `json:"id"`
	Rows       []models.ScanRow `json:"rows"`
	TotalRows  int              `json:"total_rows"`
	MatchCount int              `json:"match_count"`
	Stage      string           `json:"stage"`
}

func newTestRouter(t *testing.T, scanner *fakeScanner, archive storage.BatchStore) (http.Handler, *fakeTickers) {
	t.Helper()
	tk := &fakeTickers{size: 2}
	deps := Deps{Scanner: scanner, Tickers: tk, Archive: archive}
	return NewRouter(deps, config.APIConfig{}), tk
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestGetScan_NoData(t *testing.T) {
	h, _ := newTestRouter(t, &fakeScanner{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/scan", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "no_data", body["state"])
	assert.Equal(t, "IDLE", body["stage"])
}

func TestGetScan_Filters(t *testing.T) {
	h, _ := newTestRouter(t, &fakeScanner{current: sampleBatch("run-1")}, nil)

	tests := []struct {
		name    string
		query   string
		symbols []string
	}{
		{"unfiltered keeps order", "", []string{"BORE", "ACME", "ACMX"}},
		{"sort by change", "?sort=change", []string{"ACME", "ACMX", "BORE"}},
		{"sort by price", "?sort=price", []string{"BORE", "ACMX", "ACME"}},
		{"sort by relvol", "?sort=relvol", []string{"ACMX", "ACME", "BORE"}},
		{"matches only", "?matches=true", []string{"ACME"}},
		{"symbol search", "?q=acm&sort=change", []string{"ACME", "ACMX"}},
		{"limit", "?sort=change&limit=1", []string{"ACME"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/v1/scan"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var body scanBody
			decode(t, w, &body)
			got := make([]string, 0, len(body.Rows))
			for _, r := range body.Rows {
				got = append(got, r.Symbol)
			}
			assert.Equal(t, tt.symbols, got)
			assert.Equal(t, 3, body.TotalRows)
			assert.Equal(t, 1, body.MatchCount)
			assert.Equal(t, "run-1", body.ID)
		})
	}
}

func TestGetScan_BadQuery(t *testing.T) {
	h, _ := newTestRouter(t, &fakeScanner{current: sampleBatch("run-1")}, nil)

	for _, q := range []string{"?sort=volume", "?matches=maybe", "?limit=-1", "?limit=x"} {
		w := do(t, h, http.MethodGet, "/api/v1/scan"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRefreshScan(t *testing.T) {
	scanner := &fakeScanner{next: sampleBatch("run-2")}
	h, _ := newTestRouter(t, scanner, nil)

	w := do(t, h, http.MethodPost, "/api/v1/scan/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body scanBody
	decode(t, w, &body)
	assert.Equal(t, "run-2", body.ID)

	w = do(t, h, http.MethodPost, "/api/v1/scan/refresh", map[string]interface{}{"sample_size": 25, "reshuffle": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, screener.RunOptions{SampleSize: 25, Reshuffle: true}, scanner.lastOpts)

	w = do(t, h, http.MethodPost, "/api/v1/scan/refresh", map[string]interface{}{"sample_size": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/scan/refresh", map[string]interface{}{"sample": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshScan_BatchError(t *testing.T) {
	scanner := &fakeScanner{err: fmt.Errorf("%w: provider down", models.ErrBatchFetch)}
	h, _ := newTestRouter(t, scanner, nil)

	w := do(t, h, http.MethodPost, "/api/v1/scan/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Error string           `json:"error"`
		Batch models.ScanBatch `json:"batch"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.Error, "provider down")
	assert.Empty(t, body.Batch.Rows)
	assert.NotEmpty(t, body.Batch.Error)
}

func TestRefreshScan_OtherErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{models.ErrSuperseded, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h, _ := newTestRouter(t, &fakeScanner{err: tt.err}, nil)
		w := do(t, h, http.MethodPost, "/api/v1/scan/refresh", nil)
		assert.Equal(t, tt.code, w.Code, tt.err.Error())
	}
}

func TestScanTargets(t *testing.T) {
	scanner := &fakeScanner{next: sampleBatch("run-3")}
	h, _ := newTestRouter(t, scanner, nil)

	w := do(t, h, http.MethodPost, "/api/v1/scan/targets", map[string]interface{}{"symbols": []string{"acme", "bore"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"acme", "bore"}, scanner.lastTarget)

	w = do(t, h, http.MethodPost, "/api/v1/scan/targets", map[string]interface{}{"symbols": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/scan/targets", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshScan_OutlivesClientDisconnect(t *testing.T) {
	scanner := &fakeScanner{next: sampleBatch("run-4")}
	h, _ := newTestRouter(t, scanner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bodies := map[string]string{
		"/api/v1/scan/refresh": `{"reshuffle":true}`,
		"/api/v1/scan/targets": `{"symbols":["acme"]}`,
	}
	for path, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NoError(t, scanner.lastCtxErr, path)
	}
}

func TestHistoryAndGetBatch(t *testing.T) {
	archive := storage.NewMemoryBatchStore(10)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		b := sampleBatch(fmt.Sprintf("run-%d", i))
		b.StartedAt = b.StartedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, archive.Save(ctx, b))
	}
	h, _ := newTestRouter(t, &fakeScanner{current: sampleBatch("live")}, archive)

	w := do(t, h, http.MethodGet, "/api/v1/scan/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Batches []storage.BatchSummary `json:"batches"`
		Count   int                    `json:"count"`
	}
	decode(t, w, &hist)
	require.Equal(t, 2, hist.Count)
	assert.Equal(t, "run-3", hist.Batches[0].ID)

	w = do(t, h, http.MethodGet, "/api/v1/scan/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/scan/run-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body scanBody
	decode(t, w, &body)
	assert.Equal(t, "run-2", body.ID)

	w = do(t, h, http.MethodGet, "/api/v1/scan/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/scan/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory_NoArchive(t *testing.T) {
	h, _ := newTestRouter(t, &fakeScanner{}, nil)
	w := do(t, h, http.MethodGet, "/api/v1/scan/history", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestGetCriteriaAndStats(t *testing.T) {
	h, _ := newTestRouter(t, &fakeScanner{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/criteria", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var crit struct {
		Thresholds models.CriteriaThresholds `json:"thresholds"`
		Policy     models.MatchPolicy        `json:"policy"`
	}
	decode(t, w, &crit)
	assert.Equal(t, 10.0, crit.Thresholds.MinChangePct)
	assert.Equal(t, models.PolicyFloatRequired, crit.Policy)

	w = do(t, h, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs":3`)
}

func TestTickers(t *testing.T) {
	h, tk := newTestRouter(t, &fakeScanner{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/tickers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ACME"`)

	w = do(t, h, http.MethodPost, "/api/v1/tickers/shuffle", map[string]int{"sample_size": 4})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, float64(4), body["count"])
	assert.Equal(t, true, body["fallback"])
	assert.NotEmpty(t, body["warning"])
	assert.Equal(t, 1, tk.shuffled)

	w = do(t, h, http.MethodPost, "/api/v1/tickers/shuffle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, tk.size)
}

func TestHealthEndpoints(t *testing.T) {
	scanner := &fakeScanner{}
	ready := errors.New("archive unreachable")
	h := NewRouter(Deps{Scanner: scanner, Ready: func(context.Context) error { return ready }}, config.APIConfig{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/live", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready", nil).Code)

	ready = nil
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", nil).Code)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestScanQuery_DoesNotMutate(t *testing.T) {
	batch := sampleBatch("run-1")
	q := scanQuery{sort: screener.SortByChange, limit: 1}
	out := q.apply(batch)
	assert.Len(t, out.Rows, 1)
	assert.Equal(t, "BORE", batch.Rows[0].Symbol)
	assert.Len(t, batch.Rows, 3)
}
