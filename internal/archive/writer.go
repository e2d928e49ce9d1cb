package archive

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/ingest"
)

// TableName is the archive table.
const TableName = "asset_samples"

var columns = []string{
	"ts", "asset_id", "symbol", "quote", "rank",
	"price_usd", "volume_usd_24h", "change_percent_24h", "market_cap_usd",
	"source", "used_fallback",
}

// CopyFromer bulk-loads rows. *pgxpool.Pool implements it.
type CopyFromer interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Config holds writer batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxPending    int // rows held before new ones are dropped; default 10 * BatchSize
}

// DefaultConfig returns the writer defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
	}
}

// Metrics holds writer counters.
type Metrics struct {
	Inserts int64 `json:"inserts"`
	Flushes int64 `json:"flushes"`
	Errors  int64 `json:"errors"`
	Dropped int64 `json:"dropped"`
}

type sampleRow struct {
	Ts                int64
	AssetID           string
	Symbol            string
	Quote             string
	Rank              int32
	PriceUSD          float64
	VolumeUSD24Hr     float64
	ChangePercent24Hr float64
	MarketCapUSD      *float64
	Source            string
	UsedFallback      bool
}

func (r sampleRow) values() []any {
	return []any{
		r.Ts, r.AssetID, r.Symbol, r.Quote, r.Rank,
		r.PriceUSD, r.VolumeUSD24Hr, r.ChangePercent24Hr, r.MarketCapUSD,
		r.Source, r.UsedFallback,
	}
}

// Writer is an ingest.Observer that batches one row per published asset.
type Writer struct {
	cfg    Config
	db     CopyFromer
	logger *zap.Logger

	batch   []sampleRow
	batchMu sync.Mutex
	metrics Metrics
	flushCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ingest.Observer = (*Writer)(nil)

// NewWriter creates a writer. Zero config fields take DefaultConfig values.
func NewWriter(cfg Config, db CopyFromer, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10 * cfg.BatchSize
	}

	return &Writer{
		cfg:     cfg,
		db:      db,
		logger:  logger.Named("archive"),
		batch:   make([]sampleRow, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     context.Background(),
	}
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("flush_interval", w.cfg.FlushInterval),
	)
	return nil
}

// Stop ends the flush loop and writes whatever is still pending.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	// Final flush runs on the caller's context; the writer's own is canceled.
	w.flushWith(ctx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// OnAssetsUpdated queues one row per asset. It never blocks on the database.
func (w *Writer) OnAssetsUpdated(e ingest.AssetsUpdated) {
	w.batchMu.Lock()
	for _, a := range e.Assets {
		if len(w.batch) >= w.cfg.MaxPending {
			w.metrics.Dropped++
			continue
		}
		w.batch = append(w.batch, sampleRow{
			Ts:                e.UpdatedAt,
			AssetID:           a.ID,
			Symbol:            a.Symbol,
			Quote:             a.Quote,
			Rank:              int32(a.Rank),
			PriceUSD:          a.PriceUSD,
			VolumeUSD24Hr:     a.VolumeUSD24Hr,
			ChangePercent24Hr: a.ChangePercent24Hr,
			MarketCapUSD:      a.MarketCapUSD,
			Source:            e.Source,
			UsedFallback:      e.UsedFallback,
		})
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// OnFallback is a no-op; fallback cycles are archived through OnAssetsUpdated.
func (w *Writer) OnFallback(ingest.Fallback) {}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWith(w.ctx)
		case <-w.flushCh:
			w.flushWith(w.ctx)
		}
	}
}

// flushWith copies the pending batch into the archive table.
func (w *Writer) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]sampleRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = r.values()
	}

	start := time.Now()
	n, err := w.db.CopyFrom(ctx, pgx.Identifier{TableName}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		w.logger.Error("archive copy failed", zap.Error(err), zap.Int("count", len(batch)))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += n
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed samples",
		zap.Int64("count", n),
		zap.Duration("duration", time.Since(start)),
	)
}
