package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, WarriorThresholds, cfg.Screener.Thresholds)
	assert.Equal(t, models.PolicyFloatRequired, cfg.Screener.Policy)
	assert.Equal(t, 100, cfg.Screener.SampleSize)
	assert.Equal(t, "yahoo", cfg.MarketData.Provider)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TickerTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.MarketDataTTL)
	assert.Equal(t, DefaultFallbackTickers, cfg.Tickers.Fallback)
	assert.Equal(t, 15, cfg.Screener.CatalystMax)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MIN_PRICE", "1.5")
	t.Setenv("MAX_FLOAT", "20000000")
	t.Setenv("SCREENER_MATCH_POLICY", "basic_only")
	t.Setenv("TICKERS_SOURCE", "static")
	t.Setenv("TICKERS_STATIC", "aapl, tsla ,")
	t.Setenv("FLOAT_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.Screener.Thresholds.MinPrice)
	assert.Equal(t, 50.0, cfg.Screener.Thresholds.MaxPrice)
	assert.Equal(t, 20_000_000.0, cfg.Screener.Thresholds.MaxFloat)
	assert.Equal(t, models.PolicyBasicOnly, cfg.Screener.Policy)
	assert.Equal(t, []string{"aapl", "tsla"}, cfg.Tickers.Static)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Float)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown policy", map[string]string{"SCREENER_MATCH_POLICY": "sometimes"}},
		{"unknown provider", map[string]string{"MARKET_DATA_PROVIDER": "bloomberg"}},
		{"alpaca without keys", map[string]string{"MARKET_DATA_PROVIDER": "alpaca"}},
		{"max price below min", map[string]string{"MIN_PRICE": "60"}},
		{"summarizer without key", map[string]string{"SUMMARIZER_PROVIDER": "gemini"}},
		{"historical without date", map[string]string{"MARKET_DATA_MODE": "historical"}},
		{"kafka without brokers", map[string]string{"EVENTS_BACKEND": "kafka"}},
		{"unknown profile", map[string]string{"CRITERIA_PROFILE": "yolo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_HistoricalMode(t *testing.T) {
	t.Setenv("MARKET_DATA_MODE", "historical")
	t.Setenv("MARKET_DATA_AS_OF", "2024-03-15")

	cfg, err := Load()
	require.NoError(t, err)

	asOf, err := cfg.MarketData.AsOfDate()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), asOf)
}

func TestResolveThresholds_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	content := `
profiles:
  tight:
    min_price: 3
    max_price: 20
    min_change_pct: 20
    min_rel_volume: 10
    max_float: 10000000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tight, err := ResolveThresholds(path, "tight")
	require.NoError(t, err)
	assert.Equal(t, 20.0, tight.MinChangePct)
	assert.Equal(t, 10_000_000.0, tight.MaxFloat)

	warrior, err := ResolveThresholds(path, "")
	require.NoError(t, err)
	assert.Equal(t, WarriorThresholds, warrior)

	_, err = ResolveThresholds(path, "missing")
	assert.Error(t, err)
}

func TestLoadProfiles_InvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	content := "profiles:\n  broken:\n    min_price: 10\n    max_price: 5\n    max_float: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadProfiles(path)
	assert.Error(t, err)

	_, err = LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestProfileNames(t *testing.T) {
	assert.Equal(t, []string{"relaxed", "warrior"}, ProfileNames(builtinProfiles()))
}
