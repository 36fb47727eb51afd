package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

type stubFloat struct {
	name  string
	count float64
	err   error
	panic bool
	delay time.Duration
	calls int32
	gauge *peakGauge
}

// peakGauge records the highest number of concurrent callers
type peakGauge struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (g *peakGauge) enter() {
	if g == nil {
		return
	}
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *peakGauge) leave() {
	if g != nil {
		g.current.Add(-1)
	}
}

func (s *stubFloat) Name() string { return s.name }

func (s *stubFloat) SharesFloat(ctx context.Context, _ string) (float64, error) {
	atomic.AddInt32(&s.calls, 1)
	s.gauge.enter()
	defer s.gauge.leave()
	if s.panic {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.count, s.err
}

func TestFloatResolver_FirstPositiveWins(t *testing.T) {
	fast := &stubFloat{name: "fast", count: 0}
	detail := &stubFloat{name: "detail", count: 15_500_000}
	last := &stubFloat{name: "last", count: 99_000_000}

	r := NewFloatResolver([]FloatSource{fast, detail, last}, time.Second, 4)
	assert.Equal(t, "15.50M", r.Resolve(context.Background(), "ABCD"))
	assert.EqualValues(t, 0, atomic.LoadInt32(&last.calls))
}

func TestFloatResolver_Unresolved(t *testing.T) {
	sources := []FloatSource{
		&stubFloat{name: "err", err: errors.New("down")},
		&stubFloat{name: "panic", panic: true},
		&stubFloat{name: "slow", count: 1e6, delay: time.Second},
		&stubFloat{name: "negative", count: -5},
	}
	r := NewFloatResolver(sources, 20*time.Millisecond, 4)
	assert.Equal(t, models.FloatUnresolved, r.Resolve(context.Background(), "ABCD"))
}

func TestFloatResolver_ResolveAll(t *testing.T) {
	r := NewFloatResolver([]FloatSource{&stubFloat{name: "s", count: 2_500}}, time.Second, 2)
	got := r.ResolveAll(context.Background(), []string{"A", "B", "C"})
	assert.Equal(t, map[string]string{"A": "2.50K", "B": "2.50K", "C": "2.50K"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got = r.ResolveAll(ctx, []string{"A"})
	assert.Equal(t, models.FloatUnresolved, got["A"])
}

func TestFloatResolver_WorkerLimit(t *testing.T) {
	gauge := &peakGauge{}
	src := &stubFloat{name: "s", count: 1e6, delay: 20 * time.Millisecond, gauge: gauge}
	r := NewFloatResolver([]FloatSource{src}, time.Second, 2)

	got := r.ResolveAll(context.Background(), []string{"A", "B", "C", "D", "E", "F"})
	assert.Len(t, got, 6)
	assert.Equal(t, int32(2), gauge.peak.Load())
}

func newYahooServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v7/finance/quote":
			sym := r.URL.Query().Get("symbols")
			if sym == "NOQ" {
				fmt.Fprint(w, `{"quoteResponse":{"result":[{"symbol":"NOQ","shortName":"No Quote Co"}]}}`)
				return
			}
			fmt.Fprintf(w, `{"quoteResponse":{"result":[{"symbol":%q,"longName":"Acme Corp","sharesOutstanding":12000000}]}}`, sym)
		case strings.HasPrefix(r.URL.Path, "/v10/finance/quoteSummary/"):
			fmt.Fprint(w, `{"quoteSummary":{"result":[{"defaultKeyStatistics":{"floatShares":{"raw":8500000,"fmt":"8.5M"},"sharesOutstanding":{"raw":12000000}}}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestYahooFloatChain(t *testing.T) {
	srv := newYahooServer(t)
	defer srv.Close()

	client := NewYahooClient(srv.URL, time.Second, nil, time.Minute)
	r := NewFloatResolver(DefaultFloatSources(client), time.Second, 2)

	assert.Equal(t, "12.00M", r.Resolve(context.Background(), "ACME"))
	assert.Equal(t, "8.50M", r.Resolve(context.Background(), "NOQ"), "falls through to floatShares")

	assert.Equal(t, "Acme Corp", client.CompanyName(context.Background(), "ACME"))
	assert.Equal(t, "No Quote Co", client.CompanyName(context.Background(), "NOQ"))
}

func TestYahooClient_CompanyNameFallsBackToSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewYahooClient(srv.URL, time.Second, nil, time.Minute)
	assert.Equal(t, "ZZZ", client.CompanyName(context.Background(), "ZZZ"))
}

func TestTickerTickSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "z:abcd", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("n"))
		fmt.Fprint(w, `{"stories":[
			{"title":"Older story","url":"https://x/1","time":1700000000000},
			{"title":"Abcd wins FDA approval","description":"<p>Shares <b>soar</b></p>","url":"https://x/2","site":"newswire","time":1700000500000},
			{"description":"no title"}
		]}`)
	}))
	defer srv.Close()

	items, err := NewTickerTickSource(srv.URL, time.Second).LatestNews(context.Background(), "ABCD", 2)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Abcd wins FDA approval", items[0].Title)
	assert.Equal(t, "Shares **soar**", items[0].Description)
	assert.Equal(t, "newswire", items[0].Source)
	assert.Equal(t, "Older story", items[1].Title)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(SummaryRequest{Symbol: "ABCD", Company: "Abcd Inc", Text: "Headline. Body", TargetWords: 50})
	assert.Contains(t, p, "Abcd Inc (ABCD)")
	assert.Contains(t, p, "between 40 and 50 words")
	assert.Contains(t, p, "Headline. Body")

	p = BuildPrompt(SummaryRequest{Symbol: "ABCD"})
	assert.Contains(t, p, "ABCD (ABCD)")
}

func TestCleanSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Shares rose on earnings.  ", "Shares rose on earnings."},
		{"quoted", `"Shares rose."`, "Shares rose."},
		{"fenced json", "```json\n{\"summary\": \"Shares rose.\"}\n```", "Shares rose."},
		{"unterminated json", `{"summary": "Shares rose on guidance"`, "Shares rose on guidance"},
		{"whitespace", "Shares\n\nrose", "Shares rose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanSummary(tt.in))
		})
	}
}

func TestOpenRouterSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "Momentum Screener", r.Header.Get("X-Title"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultOpenRouterModel, req.Model)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "ABCD")

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Abcd jumped after FDA approval."}}]}`)
	}))
	defer srv.Close()

	s := NewOpenRouterSummarizer(config.SummarizerConfig{APIKey: "key", BaseURL: srv.URL, Title: "Momentum Screener"})
	got, err := s.Summarize(context.Background(), SummaryRequest{Symbol: "ABCD", Text: "FDA approval"})
	require.NoError(t, err)
	assert.Equal(t, "Abcd jumped after FDA approval.", got)
}

func TestOpenRouterSummarizer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer empty":
			fmt.Fprint(w, `{"choices":[]}`)
		case "Bearer api":
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	for _, key := range []string{"empty", "api", "bad"} {
		s := NewOpenRouterSummarizer(config.SummarizerConfig{APIKey: key, BaseURL: srv.URL})
		_, err := s.Summarize(context.Background(), SummaryRequest{Symbol: "X", Text: "t"})
		assert.Error(t, err, key)
	}
}

func TestNewSummarizerFromConfig(t *testing.T) {
	s, err := NewSummarizerFromConfig(context.Background(), config.SummarizerConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSummarizerFromConfig(context.Background(), config.SummarizerConfig{Provider: "claude", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "claude", s.Name())

	_, err = NewSummarizerFromConfig(context.Background(), config.SummarizerConfig{Provider: "bogus"})
	assert.Error(t, err)
}

type stubNews struct {
	items []models.NewsItem
	err   error
	delay time.Duration
	gauge *peakGauge
}

func (s *stubNews) Name() string { return "stub" }

func (s *stubNews) LatestNews(ctx context.Context, _ string, _ int) ([]models.NewsItem, error) {
	s.gauge.enter()
	defer s.gauge.leave()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return append([]models.NewsItem(nil), s.items...), s.err
}

type stubSummarizer struct {
	out  string
	err  error
	last SummaryRequest
}

func (s *stubSummarizer) Name() string { return "stub" }

func (s *stubSummarizer) Summarize(_ context.Context, req SummaryRequest) (string, error) {
	s.last = req
	return s.out, s.err
}

type stubNamer struct{}

func (stubNamer) CompanyName(_ context.Context, symbol string) string { return symbol + " Holdings" }

var latestNews = []models.NewsItem{
	{Title: "Old news", URL: "https://x/old", PublishedAt: time.Unix(100, 0)},
	{Title: "Abcd signs partnership", Description: "Details here", URL: "https://x/new", PublishedAt: time.Unix(200, 0)},
}

func TestCatalystResolver_Summary(t *testing.T) {
	sum := &stubSummarizer{out: `"` + strings.Repeat("word ", 60) + `"`}
	r := NewCatalystResolver(&stubNews{items: latestNews}, sum, stubNamer{}, CatalystConfig{MaxWords: 50})

	cat := r.Resolve(context.Background(), "ABCD")
	assert.Len(t, strings.Fields(cat.Summary), 50)
	assert.Equal(t, "https://x/new", cat.URL)
	assert.Equal(t, "Abcd signs partnership. Details here", sum.last.Text)
	assert.Equal(t, "ABCD Holdings", sum.last.Company)
}

func TestCatalystResolver_HeadlineFallback(t *testing.T) {
	for _, sum := range []Summarizer{nil, &stubSummarizer{err: errors.New("quota")}, &stubSummarizer{out: "  "}} {
		r := NewCatalystResolver(&stubNews{items: latestNews}, sum, nil, CatalystConfig{})
		cat := r.Resolve(context.Background(), "ABCD")
		assert.Equal(t, "Abcd signs partnership", cat.Summary)
		assert.Equal(t, "https://x/new", cat.URL)
	}
}

func TestCatalystResolver_NotFound(t *testing.T) {
	cases := map[string]NewsSource{
		"nil source":  nil,
		"error":       &stubNews{err: errors.New("down")},
		"empty":       &stubNews{},
		"no headline": &stubNews{items: []models.NewsItem{{URL: "https://x"}}},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewCatalystResolver(src, nil, nil, CatalystConfig{})
			assert.Equal(t, models.CatalystNotFound, r.Resolve(context.Background(), "ABCD").Summary)
		})
	}
}

func TestCatalystResolver_NewsTimeoutAndSummarizerFailure(t *testing.T) {
	r := NewCatalystResolver(
		&stubNews{items: latestNews, delay: time.Second},
		&stubSummarizer{err: errors.New("down")},
		nil,
		CatalystConfig{NewsTimeout: 20 * time.Millisecond},
	)
	start := time.Now()
	cat := r.Resolve(context.Background(), "ABCD")
	assert.Equal(t, models.CatalystNotFound, cat.Summary)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCatalystResolver_ResolveAllCap(t *testing.T) {
	r := NewCatalystResolver(&stubNews{items: latestNews}, nil, nil, CatalystConfig{MaxSymbols: 2, Workers: 2})
	got := r.ResolveAll(context.Background(), []string{"A", "B", "C"})
	assert.Len(t, got, 2)
	assert.Contains(t, got, "A")
	assert.Contains(t, got, "B")
	assert.NotContains(t, got, "C")
}

func TestCatalystResolver_WorkerLimit(t *testing.T) {
	gauge := &peakGauge{}
	news := &stubNews{items: latestNews, delay: 20 * time.Millisecond, gauge: gauge}
	r := NewCatalystResolver(news, nil, nil, CatalystConfig{Workers: 3, MaxSymbols: 10, NewsTimeout: time.Second})

	got := r.ResolveAll(context.Background(), []string{"A", "B", "C", "D", "E", "F", "G", "H"})
	assert.Len(t, got, 8)
	assert.Equal(t, "Abcd signs partnership", got["H"].Summary)
	assert.Equal(t, int32(3), gauge.peak.Load())
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "a b", TruncateWords("a  b c", 2))
	assert.Equal(t, "a b c", TruncateWords("a b c", 0))
	assert.Equal(t, "", TruncateWords("", 5))
}
