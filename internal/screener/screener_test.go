package screener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/momentum-screener/internal/data"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/tickers"
)

var testThresholds = models.CriteriaThresholds{
	MinPrice:     2,
	MaxPrice:     50,
	MinChangePct: 5,
	MinRelVolume: 0.5,
	MaxFloat:     50_000_000,
}

func TestEvaluate(t *testing.T) {
	base := models.ScanRow{Symbol: "ABCD", Price: 5.0, ChangePct: 10.0, RelVolume: 3.0, Float: "10M"}

	tests := []struct {
		name   string
		mutate func(r *models.ScanRow)
		policy models.MatchPolicy
		want   models.CriteriaResult
	}{
		{"all pass", func(*models.ScanRow) {}, models.PolicyFloatRequired, models.CriteriaResult{Basic: true, FloatOK: true, Overall: true}},
		{"float above ceiling", func(r *models.ScanRow) { r.Float = "60M" }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true}},
		{"float unresolved", func(r *models.ScanRow) { r.Float = models.FloatUnresolved }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true}},
		{"float empty", func(r *models.ScanRow) { r.Float = "" }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true}},
		{"float malformed", func(r *models.ScanRow) { r.Float = "lots" }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true}},
		{"basic only ignores float", func(r *models.ScanRow) { r.Float = "60M" }, models.PolicyBasicOnly, models.CriteriaResult{Basic: true, Overall: true}},
		{"price too low", func(r *models.ScanRow) { r.Price = 1.99 }, models.PolicyFloatRequired, models.CriteriaResult{FloatOK: true}},
		{"price too high", func(r *models.ScanRow) { r.Price = 50.01 }, models.PolicyBasicOnly, models.CriteriaResult{FloatOK: true}},
		{"price at bounds", func(r *models.ScanRow) { r.Price = 50 }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true, FloatOK: true, Overall: true}},
		{"change too small", func(r *models.ScanRow) { r.ChangePct = 4.9 }, models.PolicyFloatRequired, models.CriteriaResult{FloatOK: true}},
		{"rel volume too small", func(r *models.ScanRow) { r.RelVolume = 0.4 }, models.PolicyFloatRequired, models.CriteriaResult{FloatOK: true}},
		{"float at ceiling", func(r *models.ScanRow) { r.Float = "50M" }, models.PolicyFloatRequired, models.CriteriaResult{Basic: true, FloatOK: true, Overall: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := base
			tt.mutate(&row)
			assert.Equal(t, tt.want, Evaluate(row, testThresholds, tt.policy))
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	row := models.ScanRow{Symbol: "ABCD", Price: 5, ChangePct: 10, RelVolume: 3, Float: "10M"}
	out := Apply(row, testThresholds, models.PolicyFloatRequired)
	assert.True(t, out.MatchesCriteria)
	assert.False(t, row.MatchesCriteria)
}

func TestSelectTargets(t *testing.T) {
	rows := []models.ScanRow{
		{Symbol: "A", Price: 3, ChangePct: 1},
		{Symbol: "B", Price: 9, ChangePct: 30, Criteria: models.CriteriaResult{Basic: true}},
		{Symbol: "C", Price: 7, ChangePct: 50},
		{Symbol: "D", Price: 4, ChangePct: 20, Criteria: models.CriteriaResult{Basic: true}},
	}

	targets, fallback := SelectTargets(rows, 2, SortByPrice, 10)
	assert.Equal(t, []string{"B", "D"}, targets)
	assert.False(t, fallback)

	targets, _ = SelectTargets(rows, 2, SortByPrice, 1)
	assert.Equal(t, []string{"B"}, targets)

	for i := range rows {
		rows[i].Criteria.Basic = false
	}
	targets, fallback = SelectTargets(rows, 2, SortByPrice, 10)
	assert.Equal(t, []string{"B", "C"}, targets)
	assert.True(t, fallback)

	targets, _ = SelectTargets(rows, 2, SortByChange, 10)
	assert.Equal(t, []string{"C", "B"}, targets)

	targets, fallback = SelectTargets(nil, 10, SortByPrice, 10)
	assert.Empty(t, targets)
	assert.False(t, fallback)
}

func TestSortRows(t *testing.T) {
	rows := []models.ScanRow{
		{Symbol: "A", Price: 3, ChangePct: 10, RelVolume: 9},
		{Symbol: "B", Price: 9, ChangePct: 30, RelVolume: 1},
		{Symbol: "C", Price: 7, ChangePct: 50, RelVolume: 4},
	}
	symbols := func() []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Symbol
		}
		return out
	}

	SortRows(rows, "change")
	assert.Equal(t, []string{"C", "B", "A"}, symbols())
	SortRows(rows, "price")
	assert.Equal(t, []string{"B", "C", "A"}, symbols())
	SortRows(rows, "relvol")
	assert.Equal(t, []string{"A", "C", "B"}, symbols())
	SortRows(rows, "bogus")
	assert.Equal(t, []string{"A", "C", "B"}, symbols())
}

// series builds five daily bars ending at price with the given previous close.
// The last bar trades lastVolume against 100 on each earlier day.
func series(prevClose, price, lastVolume float64) models.PriceSeries {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make(models.PriceSeries, 0, 5)
	for i := 0; i < 4; i++ {
		out = append(out, models.DailyBar{
			Date: start.AddDate(0, 0, i), Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose, Volume: 100,
		})
	}
	out = append(out, models.DailyBar{
		Date: start.AddDate(0, 0, 4), Open: prevClose, High: price, Low: prevClose, Close: price, Volume: lastVolume,
	})
	return out
}

type staticTickers struct {
	result tickers.Result
}

func (s *staticTickers) Current(context.Context) tickers.Result { return s.result }

func (s *staticTickers) ShuffleN(_ context.Context, n int) tickers.Result {
	r := s.result
	if n < len(r.Symbols) {
		r.Symbols = r.Symbols[:n]
	}
	return r
}

func (s *staticTickers) Size() int { return len(s.result.Symbols) }

type stubFloats struct {
	values map[string]string
	mu     sync.Mutex
	seen   []string
}

func (s *stubFloats) ResolveAll(_ context.Context, symbols []string) map[string]string {
	s.mu.Lock()
	s.seen = append(s.seen, symbols...)
	s.mu.Unlock()
	out := make(map[string]string)
	for _, sym := range symbols {
		if v, ok := s.values[sym]; ok {
			out[sym] = v
		} else {
			out[sym] = models.FloatUnresolved
		}
	}
	return out
}

type stubCatalysts struct{}

func (stubCatalysts) ResolveAll(_ context.Context, symbols []string) map[string]models.Catalyst {
	out := make(map[string]models.Catalyst)
	for _, sym := range symbols {
		out[sym] = models.Catalyst{Summary: sym + " news", URL: "https://news/" + sym}
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	saved   []*models.ScanBatch
	err     error
	publish []*models.ScanBatch
}

func (r *recordingSink) Save(_ context.Context, b *models.ScanBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, b)
	return r.err
}

func (r *recordingSink) PublishBatch(_ context.Context, b *models.ScanBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish = append(r.publish, b)
	return r.err
}

func newMock(t *testing.T) *data.MockProvider {
	t.Helper()
	p, err := data.NewMockProvider(data.ProviderConfig{})
	require.NoError(t, err)
	mock := p.(*data.MockProvider)
	mock.Strict = true
	return mock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Thresholds = testThresholds
	cfg.RunTimeout = 5 * time.Second
	return cfg
}

func TestPipeline_RunScan(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("ABCD", series(4, 5, 1000))   // +25%, rel vol ~3.6
	mock.SetSeries("BIG", series(50, 60, 1000))  // price above range
	mock.SetSeries("FLAT", series(3, 3.03, 100)) // +1%
	mock.SetSeries("HEAVY", series(4, 5, 1000))  // passes basic, float too large

	ts := &staticTickers{result: tickers.Result{Symbols: []string{"ABCD", "BIG", "FLAT", "HEAVY", "GONE"}}}
	floats := &stubFloats{values: map[string]string{"ABCD": "10.00M", "HEAVY": "60.00M"}}
	sink := &recordingSink{}

	p := New(testConfig(), ts, mock, floats, stubCatalysts{}, WithStore(sink), WithPublisher(sink))
	batch, err := p.RunScan(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 5, batch.Requested)
	require.Len(t, batch.Rows, 4, "symbols without bars are silently excluded")
	assert.Equal(t, []string{"ABCD", "BIG", "FLAT", "HEAVY"}, []string{batch.Rows[0].Symbol, batch.Rows[1].Symbol, batch.Rows[2].Symbol, batch.Rows[3].Symbol})
	assert.Equal(t, []string{"ABCD", "HEAVY"}, batch.Candidates)
	assert.False(t, batch.Fallback)
	assert.Empty(t, batch.Error)

	abcd, _ := batch.Row("ABCD")
	assert.True(t, abcd.Enriched)
	assert.True(t, abcd.MatchesCriteria)
	assert.Equal(t, "10.00M", abcd.Float)
	assert.Equal(t, "ABCD news", abcd.Catalyst)
	assert.Equal(t, "https://news/ABCD", abcd.CatalystURL)

	heavy, _ := batch.Row("HEAVY")
	assert.True(t, heavy.Criteria.Basic)
	assert.False(t, heavy.Criteria.FloatOK)
	assert.False(t, heavy.MatchesCriteria)

	big, _ := batch.Row("BIG")
	assert.False(t, big.Enriched)
	assert.Equal(t, models.FloatUnresolved, big.Float)
	assert.Empty(t, big.Catalyst)

	assert.Equal(t, []models.ScanRow{abcd}, batch.Matches())
	assert.Equal(t, batch.ID, p.Current().ID)
	assert.Len(t, sink.saved, 1)
	assert.Len(t, sink.publish, 1)
	assert.Equal(t, StageIdle, p.Stage())
	assert.EqualValues(t, 1, p.GetStats().Runs)
}

func TestPipeline_BasicOnlyPolicy(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("HEAVY", series(4, 5, 1000))

	cfg := testConfig()
	cfg.Policy = models.PolicyBasicOnly
	p := New(cfg, nil, mock, &stubFloats{values: map[string]string{"HEAVY": "60.00M"}}, nil)

	batch, err := p.RunScanWithTargetSet(context.Background(), []string{"heavy"}, RunOptions{})
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	assert.True(t, batch.Rows[0].MatchesCriteria)
	assert.Empty(t, batch.Rows[0].Catalyst)
}

func TestPipeline_NoMatchesEnrichesFallbackSet(t *testing.T) {
	mock := newMock(t)
	symbols := []string{"A", "B", "C", "D"}
	for i, s := range symbols {
		mock.SetSeries(s, series(10, 10+float64(i)*0.1, 100)) // tiny moves, nothing passes
	}

	cfg := testConfig()
	cfg.FallbackSize = 2
	floats := &stubFloats{}
	p := New(cfg, &staticTickers{result: tickers.Result{Symbols: symbols}}, mock, floats, stubCatalysts{})

	batch, err := p.RunScan(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, batch.Matches())
	assert.True(t, batch.Fallback)
	assert.Equal(t, []string{"D", "C"}, batch.Candidates)
	assert.ElementsMatch(t, []string{"D", "C"}, floats.seen)

	d, _ := batch.Row("D")
	assert.True(t, d.Enriched)
	assert.Equal(t, "D news", d.Catalyst)
}

func TestPipeline_EmptyTickerSourceUsesFallbackList(t *testing.T) {
	mock, err := data.NewMockProvider(data.ProviderConfig{})
	require.NoError(t, err)

	acq := tickers.NewAcquirer(tickers.StaticSource{}, []string{"AAPL", "MSFT"}, tickers.WithSeed(1))
	p := New(testConfig(), tickers.NewSession(acq, 10), mock, &stubFloats{}, stubCatalysts{})

	batch, err := p.RunScan(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, batch.Error)
	assert.Equal(t, 2, batch.Requested)
	require.Len(t, batch.Warnings, 1)
	assert.Contains(t, batch.Warnings[0], models.ErrAcquisition.Error())
}

func TestPipeline_NoTickers(t *testing.T) {
	p := New(testConfig(), &staticTickers{}, newMock(t), nil, nil)

	batch, err := p.RunScan(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrNoTickers)
	assert.True(t, IsBatchError(err))
	require.NotNil(t, batch)
	assert.Empty(t, batch.Rows)
	assert.NotEmpty(t, batch.Error)
	assert.Nil(t, p.Current())

	_, err = p.RunScanWithTargetSet(context.Background(), []string{"", "not valid"}, RunOptions{})
	assert.ErrorIs(t, err, models.ErrNoTickers)
}

func TestPipeline_BatchFetchFailureKeepsPreviousBatch(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("ABCD", series(4, 5, 1000))
	sink := &recordingSink{}
	p := New(testConfig(), &staticTickers{result: tickers.Result{Symbols: []string{"ABCD"}}}, mock, &stubFloats{}, stubCatalysts{}, WithStore(sink))

	first, err := p.RunScan(context.Background(), RunOptions{})
	require.NoError(t, err)

	mock.SetError(errors.New("provider unreachable"))
	batch, err := p.RunScan(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrBatchFetch)
	assert.Empty(t, batch.Rows)
	assert.Contains(t, batch.Error, "provider unreachable")

	assert.Equal(t, first.ID, p.Current().ID)
	assert.Len(t, sink.saved, 1)
	assert.EqualValues(t, 1, p.GetStats().Failed)
}

func TestPipeline_ArchiveFailureDoesNotFailRun(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("ABCD", series(4, 5, 1000))
	sink := &recordingSink{err: errors.New("disk full")}
	p := New(testConfig(), nil, mock, nil, nil, WithStore(sink), WithPublisher(sink))

	batch, err := p.RunScanWithTargetSet(context.Background(), []string{"ABCD"}, RunOptions{})
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 1)
	assert.NotNil(t, p.Current())
}

// gatedProvider blocks fetches that include "SLOW" until release is closed
type gatedProvider struct {
	inner   data.Provider
	release chan struct{}
	entered chan struct{}
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) FetchDailyBars(ctx context.Context, symbols []string, lookback int) (map[string]models.PriceSeries, error) {
	for _, s := range symbols {
		if s == "SLOW" {
			close(g.entered)
			<-g.release
		}
	}
	return g.inner.FetchDailyBars(ctx, symbols, lookback)
}

func TestPipeline_SupersededRunIsDiscarded(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("SLOW", series(4, 5, 1000))
	mock.SetSeries("FAST", series(4, 5, 1000))
	gp := &gatedProvider{inner: mock, release: make(chan struct{}), entered: make(chan struct{})}
	p := New(testConfig(), nil, gp, nil, nil)

	type result struct {
		batch *models.ScanBatch
		err   error
	}
	slow := make(chan result, 1)
	go func() {
		b, err := p.RunScanWithTargetSet(context.Background(), []string{"SLOW"}, RunOptions{})
		slow <- result{b, err}
	}()
	<-gp.entered

	fast, err := p.RunScanWithTargetSet(context.Background(), []string{"FAST"}, RunOptions{})
	require.NoError(t, err)
	close(gp.release)

	res := <-slow
	assert.ErrorIs(t, res.err, models.ErrSuperseded)
	assert.False(t, IsBatchError(res.err))
	assert.Equal(t, fast.ID, p.Current().ID)
	assert.EqualValues(t, 1, p.GetStats().Superseded)
}

func TestPipeline_SampleSizeReshuffles(t *testing.T) {
	ts := &staticTickers{result: tickers.Result{Symbols: []string{"A", "B", "C", "D"}}}
	p := New(testConfig(), ts, newMock(t), nil, nil)

	batch, _ := p.RunScan(context.Background(), RunOptions{SampleSize: 2})
	assert.Equal(t, 2, batch.Requested)

	batch, _ = p.RunScan(context.Background(), RunOptions{})
	assert.Equal(t, 4, batch.Requested)
}

func TestPipeline_CurrentIsACopy(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("ABCD", series(4, 5, 1000))
	p := New(testConfig(), nil, mock, nil, nil)

	_, err := p.RunScanWithTargetSet(context.Background(), []string{"ABCD"}, RunOptions{})
	require.NoError(t, err)

	c := p.Current()
	c.Rows[0].Symbol = "MUTATED"
	assert.Equal(t, "ABCD", p.Current().Rows[0].Symbol)
}

// cancellingProvider cancels the run's parent context once bars are returned
type cancellingProvider struct {
	inner  data.Provider
	cancel context.CancelFunc
}

func (c *cancellingProvider) Name() string { return "cancelling" }

func (c *cancellingProvider) FetchDailyBars(ctx context.Context, symbols []string, lookback int) (map[string]models.PriceSeries, error) {
	bars, err := c.inner.FetchDailyBars(ctx, symbols, lookback)
	if c.cancel != nil {
		c.cancel()
	}
	return bars, err
}

func TestPipeline_CancelledDuringEnrichmentKeepsPreviousBatch(t *testing.T) {
	mock := newMock(t)
	mock.SetSeries("ABCD", series(4, 5, 1000))
	cp := &cancellingProvider{inner: mock}
	sink := &recordingSink{}
	floats := &stubFloats{values: map[string]string{"ABCD": "10.00M"}}
	p := New(testConfig(), nil, cp, floats, stubCatalysts{}, WithStore(sink))

	first, err := p.RunScanWithTargetSet(context.Background(), []string{"ABCD"}, RunOptions{})
	require.NoError(t, err)
	require.True(t, first.Rows[0].MatchesCriteria)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cp.cancel = cancel

	batch, err := p.RunScanWithTargetSet(ctx, []string{"ABCD"}, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsBatchError(err))
	require.NotNil(t, batch)
	assert.Empty(t, batch.Rows)

	current := p.Current()
	require.NotNil(t, current)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, "10.00M", current.Rows[0].Float)
	assert.True(t, current.Rows[0].MatchesCriteria)
	assert.Len(t, sink.saved, 1)
	assert.EqualValues(t, 1, p.GetStats().Failed)
}

func TestPipeline_TargetsCappedByCatalystLimit(t *testing.T) {
	mock := newMock(t)
	symbols := []string{"A", "B", "C", "D"}
	for _, s := range symbols {
		mock.SetSeries(s, series(4, 5, 1000))
	}

	cfg := testConfig()
	cfg.Policy = models.PolicyBasicOnly
	cfg.EnrichMax = 5
	cfg.CatalystMax = 2
	floats := &stubFloats{}
	p := New(cfg, &staticTickers{result: tickers.Result{Symbols: symbols}}, mock, floats, stubCatalysts{})

	batch, err := p.RunScan(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Len(t, batch.Candidates, 2)
	assert.Len(t, floats.seen, 2)

	enriched := 0
	for _, row := range batch.Rows {
		if row.Enriched {
			enriched++
			assert.NotEmpty(t, row.Catalyst)
		}
	}
	assert.Equal(t, 2, enriched)
}
