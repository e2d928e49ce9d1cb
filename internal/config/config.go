package config

import "time"

// Config is the root configuration for a marketfeed process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
	Stream    StreamConfig    `yaml:"stream"`
	Providers ProvidersConfig `yaml:"providers"`
	Hub       HubConfig       `yaml:"hub"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the zap logger flavor.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Interval        time.Duration `yaml:"interval"`
	CycleTimeout    time.Duration `yaml:"cycle_timeout"`
	Drift           float64       `yaml:"drift"`
	BlendWeight     float64       `yaml:"blend_weight"`
	QuotePreference []string      `yaml:"quote_preference"`
	Sources         []string      `yaml:"sources"` // tried in order
	Seeds           []SeedConfig  `yaml:"seeds"`   // empty means built-in seeds
}

// SeedConfig is one synthetic fallback asset.
type SeedConfig struct {
	Symbol            string  `yaml:"symbol"`
	Quote             string  `yaml:"quote"`
	Name              string  `yaml:"name"`
	PriceUSD          float64 `yaml:"price_usd"`
	VolumeUSD24Hr     float64 `yaml:"volume_usd_24h"`
	ChangePercent24Hr float64 `yaml:"change_percent_24h"`
	Supply            float64 `yaml:"supply"`
	MaxSupply         float64 `yaml:"max_supply"`
}

// CacheConfig holds request cache TTLs.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	SymbolTTL  time.Duration `yaml:"symbol_ttl"`
}

// HistoryConfig sizes the per-asset history ring.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// StreamConfig holds upstream stream multiplexer settings.
type StreamConfig struct {
	URL                  string            `yaml:"url"`
	HeartbeatInterval    time.Duration     `yaml:"heartbeat_interval"`
	PongTimeout          time.Duration     `yaml:"pong_timeout"`
	ReconnectBaseDelay   time.Duration     `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration     `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"`
	Channels             map[string]string `yaml:"channels"` // channel -> stream suffix
}

// ProvidersConfig holds per-provider REST settings.
type ProvidersConfig struct {
	Binance BinanceConfig `yaml:"binance"`
	Bybit   BybitConfig   `yaml:"bybit"`
	CoinCap CoinCapConfig `yaml:"coincap"`
}

// BinanceConfig holds Binance spot API settings.
type BinanceConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// BybitConfig holds Bybit V5 API settings.
type BybitConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CoinCapConfig holds CoinCap REST settings.
type CoinCapConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	PageSize   int           `yaml:"page_size"`
	MaxAssets  int           `yaml:"max_assets"`
}

// HubConfig holds client fan-out settings.
type HubConfig struct {
	OutboxSize      int           `yaml:"outbox_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MetricsInterval time.Duration `yaml:"metrics_interval"` // 0 disables
}

// ArchiveConfig holds the optional sample archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
