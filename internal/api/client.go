package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public CoinCap v2 endpoint.
const DefaultBaseURL = "https://api.coincap.io/v2"

// Config holds CoinCap client settings. Zero fields take DefaultConfig values.
type Config struct {
	BaseURL    string
	APIKey     string        // Sent as a bearer token when set
	Timeout    time.Duration // Per-request timeout (default: 10s)
	MaxRetries int           // Retries after the first attempt; negative disables (default: 3)
	RetryMin   time.Duration // First retry delay (default: 1s)
	RetryMax   time.Duration // Retry delay cap, also bounds Retry-After (default: 30s)
	HTTPClient *http.Client  // Overrides Timeout when set
}

// DefaultConfig returns the settings used for the public endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryMin:   time.Second,
		RetryMax:   30 * time.Second,
	}
}

// Client reads asset listings from CoinCap.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client. A nil logger discards output.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = def.RetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryMin)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: logger.Named("coincap"),
	}
}
