package config

import (
	"net"
	"strings"

	"github.com/pkg/errors"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return errors.Errorf("server.addr %q is not host:port", c.Server.Addr)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return errors.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	if err := c.Ingest.validate(); err != nil {
		return err
	}

	if c.Cache.DefaultTTL <= 0 {
		return errors.New("cache.default_ttl must be > 0")
	}
	if c.History.Capacity < 1 {
		return errors.New("history.capacity must be >= 1")
	}

	if c.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be > 0")
	}
	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return errors.Errorf("stream.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Stream.ReconnectBaseDelay, c.Stream.ReconnectMaxDelay)
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		return errors.New("stream.max_reconnect_attempts must be >= 1")
	}

	if c.Providers.CoinCap.PageSize < 1 || c.Providers.CoinCap.PageSize > 2000 {
		return errors.Errorf("providers.coincap.page_size must be between 1 and 2000, got %d", c.Providers.CoinCap.PageSize)
	}

	if c.Hub.OutboxSize < 1 {
		return errors.New("hub.outbox_size must be >= 1")
	}
	if c.Hub.MetricsInterval < 0 {
		return errors.New("hub.metrics_interval must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
	}

	return nil
}

func (in *IngestConfig) validate() error {
	if in.Interval <= 0 {
		return errors.New("ingest.interval must be > 0")
	}
	if in.CycleTimeout < 0 {
		return errors.New("ingest.cycle_timeout must be >= 0")
	}
	if in.Drift < 0 || in.Drift >= 1 {
		return errors.Errorf("ingest.drift must be in [0, 1), got %g", in.Drift)
	}
	if in.BlendWeight < 0 || in.BlendWeight > 1 {
		return errors.Errorf("ingest.blend_weight must be in [0, 1], got %g", in.BlendWeight)
	}

	seen := make(map[string]bool, len(in.Sources))
	for _, s := range in.Sources {
		switch s {
		case SourceBinance, SourceBybit, SourceCoinCap:
		default:
			return errors.Errorf("ingest.sources: unknown provider %q", s)
		}
		if seen[s] {
			return errors.Errorf("ingest.sources: duplicate provider %q", s)
		}
		seen[s] = true
	}

	for i, seed := range in.Seeds {
		if seed.Symbol == "" {
			return errors.Errorf("ingest.seeds[%d].symbol is required", i)
		}
		if seed.PriceUSD <= 0 {
			return errors.Errorf("ingest.seeds[%d].price_usd must be > 0", i)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return errors.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return errors.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return errors.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return errors.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return errors.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return errors.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return errors.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
