package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/analytics"
	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/archive"
	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/fanout"
	"github.com/rickgao/marketfeed/internal/history"
	"github.com/rickgao/marketfeed/internal/ingest"
	"github.com/rickgao/marketfeed/internal/source"
	"github.com/rickgao/marketfeed/internal/stream"
)

// app owns every long-running component.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pipeline  *ingest.Pipeline
	mux       *stream.Multiplexer
	hub       *fanout.Hub
	analytics *analytics.Service

	pool    *pgxpool.Pool
	archive *archive.Writer

	server   *http.Server
	serveErr chan error
	events   chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		serveErr: make(chan error, 1),
		events:   make(chan struct{}),
	}

	reqCache := cache.New(cfg.Cache.DefaultTTL)
	sources, err := buildSources(cfg, reqCache, logger)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(cfg.History.Capacity)
	a.pipeline = ingest.New(ingestConfig(cfg), sources, store, logger)
	a.analytics = analytics.NewService(a.pipeline)

	a.mux = stream.New(stream.Config{
		URL:                  cfg.Stream.URL,
		Channels:             cfg.Stream.Channels,
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
		PongTimeout:          cfg.Stream.PongTimeout,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, logger)

	a.hub = fanout.NewHub(a.pipeline, fanout.FromMultiplexer(a.mux), logger,
		fanout.WithMetrics(cfg.Hub.MetricsInterval, a.analytics.Metrics),
	)
	a.pipeline.AddObserver(a.hub)

	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			zap.String("host", cfg.Archive.Database.Host),
			zap.Int("port", cfg.Archive.Database.Port),
			zap.String("database", cfg.Archive.Database.Name),
		)
		pool, err := archive.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			a.mux.Close()
			return nil, errors.Wrap(err, "connect archive")
		}
		if err := archive.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			a.mux.Close()
			return nil, err
		}
		a.pool = pool
		a.archive = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, pool, logger)
		a.pipeline.AddObserver(a.archive)
	}

	ws := fanout.NewHandler(a.hub, fanout.TransportConfig{
		OutboxSize:   cfg.Hub.OutboxSize,
		WriteTimeout: cfg.Hub.WriteTimeout,
		PingInterval: cfg.Hub.PingInterval,
	}, logger)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(a, ws),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func ingestConfig(cfg *config.Config) ingest.Config {
	ic := ingest.Config{
		Interval:        cfg.Ingest.Interval,
		CycleTimeout:    cfg.Ingest.CycleTimeout,
		Drift:           cfg.Ingest.Drift,
		BlendWeight:     cfg.Ingest.BlendWeight,
		QuotePreference: cfg.Ingest.QuotePreference,
		Seeds:           ingest.DefaultSeeds(),
	}
	if len(cfg.Ingest.Seeds) > 0 {
		ic.Seeds = make([]ingest.Seed, 0, len(cfg.Ingest.Seeds))
		for _, s := range cfg.Ingest.Seeds {
			quote := s.Quote
			if quote == "" {
				quote = "USDT"
			}
			ic.Seeds = append(ic.Seeds, ingest.Seed{
				Symbol:            s.Symbol,
				Quote:             quote,
				Name:              s.Name,
				PriceUSD:          s.PriceUSD,
				VolumeUSD24Hr:     s.VolumeUSD24Hr,
				ChangePercent24Hr: s.ChangePercent24Hr,
				Supply:            s.Supply,
				MaxSupply:         s.MaxSupply,
			})
		}
	}
	return ic
}

func buildSources(cfg *config.Config, c *cache.Cache, logger *zap.Logger) ([]source.Source, error) {
	sources := make([]source.Source, 0, len(cfg.Ingest.Sources))
	for _, name := range cfg.Ingest.Sources {
		switch name {
		case config.SourceBinance:
			sources = append(sources, source.NewBinance(source.BinanceConfig{
				BaseURL:         cfg.Providers.Binance.BaseURL,
				APIKey:          cfg.Providers.Binance.APIKey,
				SecretKey:       cfg.Providers.Binance.SecretKey,
				QuotePreference: cfg.Ingest.QuotePreference,
				SymbolTTL:       cfg.Cache.SymbolTTL,
				TickerTTL:       cfg.Cache.DefaultTTL,
			}, c, logger))
		case config.SourceBybit:
			sources = append(sources, source.NewBybit(source.BybitConfig{
				BaseURL:         cfg.Providers.Bybit.BaseURL,
				QuotePreference: cfg.Ingest.QuotePreference,
				TickerTTL:       cfg.Cache.DefaultTTL,
			}, c, logger))
		case config.SourceCoinCap:
			cc := cfg.Providers.CoinCap
			client := api.NewClient(api.Config{
				BaseURL:    cc.BaseURL,
				APIKey:     cc.APIKey,
				Timeout:    cc.Timeout,
				MaxRetries: cc.MaxRetries,
			}, logger)
			sources = append(sources, source.NewCoinCap(client, source.CoinCapConfig{
				PageSize:  cc.PageSize,
				MaxAssets: cc.MaxAssets,
				TTL:       cfg.Cache.DefaultTTL,
			}, c, logger))
		default:
			return nil, errors.Errorf("unknown source %q", name)
		}
	}
	return sources, nil
}

func (a *app) start(ctx context.Context) error {
	go a.logStreamEvents()

	if a.archive != nil {
		if err := a.archive.Start(ctx); err != nil {
			return errors.Wrap(err, "start archive")
		}
	}
	if err := a.hub.Start(ctx); err != nil {
		return errors.Wrap(err, "start hub")
	}
	if err := a.pipeline.Start(ctx); err != nil {
		return errors.Wrap(err, "start ingest")
	}

	go func() {
		a.logger.Info("starting http server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()
	return nil
}

// shutdown stops components in reverse dependency order.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := a.pipeline.Stop(ctx); err != nil {
		a.logger.Warn("ingest stop", zap.Error(err))
	}
	if err := a.hub.Stop(ctx); err != nil {
		a.logger.Warn("hub stop", zap.Error(err))
	}
	a.mux.Close()
	close(a.events)

	if a.archive != nil {
		a.archive.Stop(ctx)
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) logStreamEvents() {
	log := a.logger.Named("stream")
	for {
		select {
		case <-a.events:
			return
		case e := <-a.mux.Events():
			fields := []zap.Field{zap.String("key", e.Key)}
			if e.Attempt > 0 {
				fields = append(fields, zap.Int("attempt", e.Attempt))
			}
			if e.Err != nil {
				fields = append(fields, zap.Error(e.Err))
			}
			switch e.Type {
			case stream.EventReconnectFailed, stream.EventListenerError:
				log.Warn(string(e.Type), fields...)
			default:
				log.Debug(string(e.Type), fields...)
			}
		}
	}
}
