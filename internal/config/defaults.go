package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr           = ":8080"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultIngestInterval       = 15 * time.Second
	DefaultCycleTimeout         = 30 * time.Second
	DefaultDrift                = 0.015
	DefaultBlendWeight          = 0.6
	DefaultCacheTTL             = 15 * time.Second
	DefaultSymbolTTL            = 1 * time.Minute
	DefaultHistoryCapacity      = 288
	DefaultStreamURL            = "wss://stream.binance.com:9443/ws"
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultCoinCapURL           = "https://api.coincap.io/v2"
	DefaultCoinCapTimeout       = 10 * time.Second
	DefaultCoinCapRetries       = 3
	DefaultCoinCapPageSize      = 200
	DefaultCoinCapMaxAssets     = 200
	DefaultOutboxSize           = 256
	DefaultWriteTimeout         = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 1000
	DefaultFlushInterval        = 5 * time.Second
)

// Provider names accepted in ingest.sources.
const (
	SourceBinance = "binance"
	SourceBybit   = "bybit"
	SourceCoinCap = "coincap"
)

// DefaultSources is the provider order used when ingest.sources is empty.
func DefaultSources() []string {
	return []string{SourceBinance, SourceBybit, SourceCoinCap}
}

// DefaultQuotePreference ranks quote assets, most preferred first.
func DefaultQuotePreference() []string {
	return []string{"USDT", "BUSD", "USDC", "USD"}
}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Ingest defaults
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = DefaultIngestInterval
	}
	if c.Ingest.CycleTimeout == 0 {
		c.Ingest.CycleTimeout = DefaultCycleTimeout
	}
	if c.Ingest.Drift == 0 {
		c.Ingest.Drift = DefaultDrift
	}
	if c.Ingest.BlendWeight == 0 {
		c.Ingest.BlendWeight = DefaultBlendWeight
	}
	if len(c.Ingest.QuotePreference) == 0 {
		c.Ingest.QuotePreference = DefaultQuotePreference()
	}
	if len(c.Ingest.Sources) == 0 {
		c.Ingest.Sources = DefaultSources()
	}

	// Cache defaults
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = DefaultCacheTTL
	}
	if c.Cache.SymbolTTL == 0 {
		c.Cache.SymbolTTL = DefaultSymbolTTL
	}

	if c.History.Capacity == 0 {
		c.History.Capacity = DefaultHistoryCapacity
	}

	// Stream defaults
	if c.Stream.URL == "" {
		c.Stream.URL = DefaultStreamURL
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	// CoinCap defaults
	cc := &c.Providers.CoinCap
	if cc.BaseURL == "" {
		cc.BaseURL = DefaultCoinCapURL
	}
	if cc.Timeout == 0 {
		cc.Timeout = DefaultCoinCapTimeout
	}
	if cc.MaxRetries == 0 {
		cc.MaxRetries = DefaultCoinCapRetries
	}
	if cc.PageSize == 0 {
		cc.PageSize = DefaultCoinCapPageSize
	}
	if cc.MaxAssets == 0 {
		cc.MaxAssets = DefaultCoinCapMaxAssets
	}

	// Hub defaults
	if c.Hub.OutboxSize == 0 {
		c.Hub.OutboxSize = DefaultOutboxSize
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
