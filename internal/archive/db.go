package archive

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rickgao/marketfeed/internal/config"
)

// Schema creates the archive table.
const Schema = `
CREATE TABLE IF NOT EXISTS asset_samples (
	ts                   BIGINT           NOT NULL,
	asset_id             TEXT             NOT NULL,
	symbol               TEXT             NOT NULL,
	quote                TEXT             NOT NULL,
	rank                 INTEGER          NOT NULL,
	price_usd            DOUBLE PRECISION NOT NULL,
	volume_usd_24h       DOUBLE PRECISION NOT NULL,
	change_percent_24h   DOUBLE PRECISION NOT NULL,
	market_cap_usd       DOUBLE PRECISION,
	source               TEXT             NOT NULL,
	used_fallback        BOOLEAN          NOT NULL
)`

// Execer runs a statement. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates asset_samples if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "create asset_samples")
	}
	return nil
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "parse connection string")
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return pool, nil
}
