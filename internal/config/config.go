package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string `validate:"required"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	Screener   ScreenerConfig
	Timeouts   TimeoutConfig
	MarketData MarketDataConfig
	Tickers    TickersConfig
	News       NewsConfig
	Summarizer SummarizerConfig
	Cache      CacheConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Events     EventsConfig
	API        APIConfig
	WSGateway  WSGatewayConfig
	Scheduler  SchedulerConfig
}

// ScreenerConfig holds the run parameters of the screening pipeline
type ScreenerConfig struct {
	Thresholds      models.CriteriaThresholds
	Policy          models.MatchPolicy
	CriteriaFile    string
	CriteriaProfile string

	SampleSize     int    `validate:"gte=1"`
	LookbackDays   int    `validate:"gte=2,lte=365"`
	FallbackSize   int    `validate:"gte=0"`
	FallbackSort   string `validate:"oneof=price change"`
	EnrichMax      int    `validate:"gte=1"`
	CatalystMax    int    `validate:"gte=1"`
	FloatWorkers   int    `validate:"gte=1"`
	CatalystWorker int    `validate:"gte=1"`
	FetchWorkers   int    `validate:"gte=1"`
	SummaryWords   int    `validate:"gte=1"`
	NewsLimit      int    `validate:"gte=1"`
}

// TimeoutConfig bounds every external call
type TimeoutConfig struct {
	Tickers    time.Duration `validate:"gt=0"`
	MarketData time.Duration `validate:"gt=0"`
	Float      time.Duration `validate:"gt=0"`
	News       time.Duration `validate:"gt=0"`
	Summarizer time.Duration `validate:"gt=0"`
	Run        time.Duration `validate:"gt=0"`
}

// MarketDataConfig holds market data provider configuration
type MarketDataConfig struct {
	Provider  string `validate:"oneof=yahoo alpaca mock"`
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
	Mode      string `validate:"oneof=live historical"`
	AsOf      string
	RateLimit float64 `validate:"gte=0"`
}

// TickersConfig selects the ticker universe
type TickersConfig struct {
	Source   string `validate:"oneof=url gainers static"`
	URL      string `validate:"required_if=Source url"`
	Fallback []string
	Static   []string
}

// NewsConfig selects the news source
type NewsConfig struct {
	Provider string `validate:"oneof=tickertick alpaca none"`
	BaseURL  string
}

// SummarizerConfig selects the catalyst summarizer
type SummarizerConfig struct {
	Provider string `validate:"oneof=none openrouter gemini claude"`
	APIKey   string `validate:"required_unless=Provider none"`
	Model    string
	BaseURL  string
	Referer  string
	Title    string
}

// CacheConfig holds cache backend configuration
type CacheConfig struct {
	Backend       string `validate:"oneof=memory redis badger"`
	TickerTTL     time.Duration
	MarketDataTTL time.Duration
	BadgerDir     string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// DatabaseConfig holds the batch archive configuration
type DatabaseConfig struct {
	Driver          string `validate:"oneof=none postgres sqlite"`
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	HistorySize     int
}

// EventsConfig selects where batch-completed events go
type EventsConfig struct {
	Backend      string `validate:"oneof=none redis kafka"`
	Stream       string
	KafkaBrokers []string
	KafkaTopic   string
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port         int
	JWTSecret    string
	JWTExpiry    time.Duration
	RateLimitRPS int
	CORSOrigins  []string
}

// WSGatewayConfig holds WebSocket push configuration
type WSGatewayConfig struct {
	Port           int
	JWTSecret      string
	ConsumerGroup  string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxConnections int
	SendBuffer     int
}

// SchedulerConfig holds the automatic refresh schedule
type SchedulerConfig struct {
	Cron       string
	RunOnStart bool
}

// DefaultFallbackTickers is used when the ticker source is unavailable
var DefaultFallbackTickers = []string{"AAPL", "MSFT", "AMZN", "NVDA", "TSLA", "GME", "AMC", "BB", "PLTR", "SOFI"}

const defaultTickerURL = "https://raw.githubusercontent.com/rreichel3/US-Stock-Symbols/main/all/all_tickers.txt"

var validate = validator.New()

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Screener: ScreenerConfig{
			Policy:          models.MatchPolicy(getEnv("SCREENER_MATCH_POLICY", string(models.PolicyFloatRequired))),
			CriteriaFile:    getEnv("CRITERIA_FILE", ""),
			CriteriaProfile: getEnv("CRITERIA_PROFILE", DefaultProfile),
			SampleSize:      getEnvAsInt("SCREENER_SAMPLE_SIZE", 100),
			LookbackDays:    getEnvAsInt("SCREENER_LOOKBACK_DAYS", 30),
			FallbackSize:    getEnvAsInt("FALLBACK_SIZE", 10),
			FallbackSort:    getEnv("FALLBACK_SORT", "price"),
			EnrichMax:       getEnvAsInt("ENRICH_MAX_SYMBOLS", 50),
			CatalystMax:     getEnvAsInt("CATALYST_MAX_SYMBOLS", 15),
			FloatWorkers:    getEnvAsInt("FLOAT_WORKERS", 20),
			CatalystWorker:  getEnvAsInt("CATALYST_WORKERS", 10),
			FetchWorkers:    getEnvAsInt("FETCH_WORKERS", 8),
			SummaryWords:    getEnvAsInt("SUMMARY_MAX_WORDS", 50),
			NewsLimit:       getEnvAsInt("NEWS_LIMIT", 2),
		},
		Timeouts: TimeoutConfig{
			Tickers:    getEnvAsDuration("TICKERS_TIMEOUT", 10*time.Second),
			MarketData: getEnvAsDuration("MARKET_DATA_TIMEOUT", 15*time.Second),
			Float:      getEnvAsDuration("FLOAT_TIMEOUT", 5*time.Second),
			News:       getEnvAsDuration("NEWS_TIMEOUT", 5*time.Second),
			Summarizer: getEnvAsDuration("SUMMARIZER_TIMEOUT", 10*time.Second),
			Run:        getEnvAsDuration("RUN_TIMEOUT", 2*time.Minute),
		},
		MarketData: MarketDataConfig{
			Provider:  getEnv("MARKET_DATA_PROVIDER", "yahoo"),
			APIKey:    getEnv("MARKET_DATA_API_KEY", ""),
			APISecret: getEnv("MARKET_DATA_API_SECRET", ""),
			BaseURL:   getEnv("MARKET_DATA_BASE_URL", ""),
			Feed:      getEnv("MARKET_DATA_FEED", "iex"),
			Mode:      getEnv("MARKET_DATA_MODE", "live"),
			AsOf:      getEnv("MARKET_DATA_AS_OF", ""),
			RateLimit: getEnvAsFloat("MARKET_DATA_RATE_LIMIT", 10),
		},
		Tickers: TickersConfig{
			Source:   getEnv("TICKERS_SOURCE", "url"),
			URL:      getEnv("TICKERS_URL", defaultTickerURL),
			Fallback: getEnvAsStringSlice("TICKERS_FALLBACK", DefaultFallbackTickers),
			Static:   getEnvAsStringSlice("TICKERS_STATIC", []string{}),
		},
		News: NewsConfig{
			Provider: getEnv("NEWS_PROVIDER", "tickertick"),
			BaseURL:  getEnv("NEWS_BASE_URL", ""),
		},
		Summarizer: SummarizerConfig{
			Provider: getEnv("SUMMARIZER_PROVIDER", "none"),
			APIKey:   getEnv("SUMMARIZER_API_KEY", ""),
			Model:    getEnv("SUMMARIZER_MODEL", ""),
			BaseURL:  getEnv("SUMMARIZER_BASE_URL", ""),
			Referer:  getEnv("SUMMARIZER_REFERER", "http://localhost:8090"),
			Title:    getEnv("SUMMARIZER_TITLE", "Momentum Screener"),
		},
		Cache: CacheConfig{
			Backend:       getEnv("CACHE_BACKEND", "memory"),
			TickerTTL:     getEnvAsDuration("CACHE_TICKER_TTL", time.Hour),
			MarketDataTTL: getEnvAsDuration("CACHE_MARKET_DATA_TTL", 60*time.Second),
			BadgerDir:     getEnv("CACHE_BADGER_DIR", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "none"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "momentum_screener"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			Path:            getEnv("DB_PATH", "screener.db"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			HistorySize:     getEnvAsInt("BATCH_HISTORY_SIZE", 20),
		},
		Events: EventsConfig{
			Backend:      getEnv("EVENTS_BACKEND", "none"),
			Stream:       getEnv("EVENTS_STREAM", "screener.batches"),
			KafkaBrokers: getEnvAsStringSlice("KAFKA_BROKERS", []string{}),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "screener.batches"),
		},
		API: APIConfig{
			Port:         getEnvAsInt("API_PORT", 8090),
			JWTSecret:    getEnv("API_JWT_SECRET", ""),
			JWTExpiry:    getEnvAsDuration("API_JWT_EXPIRY", 24*time.Hour),
			RateLimitRPS: getEnvAsInt("API_RATE_LIMIT_RPS", 20),
			CORSOrigins:  getEnvAsStringSlice("API_CORS_ORIGINS", []string{"*"}),
		},
		WSGateway: WSGatewayConfig{
			Port:           getEnvAsInt("WS_PORT", 8091),
			JWTSecret:      getEnv("WS_JWT_SECRET", getEnv("API_JWT_SECRET", "")),
			ConsumerGroup:  getEnv("WS_CONSUMER_GROUP", "ws-gateway"),
			ReadTimeout:    getEnvAsDuration("WS_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getEnvAsDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			MaxConnections: getEnvAsInt("WS_MAX_CONNECTIONS", 500),
			SendBuffer:     getEnvAsInt("WS_SEND_BUFFER", 16),
		},
		Scheduler: SchedulerConfig{
			Cron:       getEnv("SCHEDULER_CRON", ""),
			RunOnStart: getEnvAsBool("SCHEDULER_RUN_ON_START", true),
		},
	}

	thresholds, err := ResolveThresholds(cfg.Screener.CriteriaFile, cfg.Screener.CriteriaProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}
	cfg.Screener.Thresholds = applyThresholdOverrides(thresholds)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.Screener.Policy.IsValid() {
		return fmt.Errorf("SCREENER_MATCH_POLICY must be %q or %q", models.PolicyFloatRequired, models.PolicyBasicOnly)
	}
	if c.Tickers.Source == "static" && len(c.Tickers.Static) == 0 {
		return fmt.Errorf("TICKERS_STATIC must contain at least one symbol")
	}
	if c.Events.Backend == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required for kafka events")
	}
	if c.MarketData.Provider == "alpaca" && (c.MarketData.APIKey == "" || c.MarketData.APISecret == "") {
		return fmt.Errorf("MARKET_DATA_API_KEY and MARKET_DATA_API_SECRET are required for alpaca")
	}
	if c.News.Provider == "alpaca" && (c.MarketData.APIKey == "" || c.MarketData.APISecret == "") {
		return fmt.Errorf("alpaca news requires MARKET_DATA_API_KEY and MARKET_DATA_API_SECRET")
	}
	if c.MarketData.Mode == "historical" {
		if _, err := c.MarketData.AsOfDate(); err != nil {
			return fmt.Errorf("MARKET_DATA_AS_OF: %w", err)
		}
	}
	if c.Cache.Backend == "badger" && c.Cache.BadgerDir == "" && c.Environment == "production" {
		return fmt.Errorf("CACHE_BADGER_DIR is required for badger in production")
	}
	return nil
}

// AsOfDate parses the historical cut-off date
func (m MarketDataConfig) AsOfDate() (time.Time, error) {
	if m.AsOf == "" {
		return time.Time{}, fmt.Errorf("date is required in historical mode")
	}
	return time.Parse("2006-01-02", m.AsOf)
}

// RedisAddr returns host:port for the Redis client
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// applyThresholdOverrides lets individual env vars override the selected profile
func applyThresholdOverrides(t models.CriteriaThresholds) models.CriteriaThresholds {
	t.MinPrice = getEnvAsFloat("MIN_PRICE", t.MinPrice)
	t.MaxPrice = getEnvAsFloat("MAX_PRICE", t.MaxPrice)
	t.MinChangePct = getEnvAsFloat("MIN_DAY_CHANGE_PCT", t.MinChangePct)
	t.MinRelVolume = getEnvAsFloat("MIN_REL_VOL", t.MinRelVolume)
	t.MaxFloat = getEnvAsFloat("MAX_FLOAT", t.MaxFloat)
	return t
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Split by comma and trim spaces
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
