package ingest

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/history"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/source"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRand sets the uniform [0,1) source used by the synthetic path.
func WithRand(r func() float64) Option {
	return func(p *Pipeline) { p.rand = r }
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// Pipeline fetches, normalizes and publishes the asset universe.
type Pipeline struct {
	cfg     Config
	sources []source.Source
	history *history.Store
	logger  *zap.Logger
	now     func() time.Time
	rand    func() float64

	busy atomic.Bool

	// mu guards the published snapshot together with history appends.
	mu       sync.RWMutex
	snapshot *model.Snapshot

	obsMu     sync.RWMutex
	observers []Observer

	cycles    atomic.Int64
	skipped   atomic.Int64
	fallbacks atomic.Int64
	failures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline over sources, tried in the given order.
func New(cfg Config, sources []source.Source, store *history.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = history.NewStore(history.DefaultCapacity)
	}

	p := &Pipeline{
		cfg:     cfg,
		sources: sources,
		history: store,
		logger:  logger.Named("ingest"),
		now:     time.Now,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddObserver registers o for all subsequent events.
func (p *Pipeline) AddObserver(o Observer) {
	p.obsMu.Lock()
	p.observers = append(p.observers, o)
	p.obsMu.Unlock()
}

// Start runs a cycle immediately and then every Interval.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return errors.New("ingest interval must be positive")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("ingest pipeline started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("sources", len(p.sources)),
		zap.Int("seeds", len(p.cfg.Seeds)),
	)
	return nil
}

// Stop cancels the loop and waits for in-flight cycles.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingest pipeline stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.trigger()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.trigger()
		}
	}
}

// trigger starts a cycle without waiting for it. Overlap is rejected by RunCycle.
func (p *Pipeline) trigger() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunCycle(p.ctx)
	}()
}

// RunCycle performs one ingestion cycle. It returns false when another cycle
// was already in flight and this call did nothing.
func (p *Pipeline) RunCycle(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("cycle skipped, previous still in flight")
		return false
	}
	defer p.busy.Store(false)

	p.cycles.Add(1)
	start := p.now()

	if p.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CycleTimeout)
		defer cancel()
	}

	var lastErr error
	for _, src := range p.sources {
		raw, err := src.Fetch(ctx)
		if err != nil {
			lastErr = errors.Wrapf(err, "source %s", src.Name())
			p.logger.Warn("source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}

		assets := Normalize(raw, p.cfg.QuotePreference)
		if len(assets) == 0 {
			lastErr = errors.Wrapf(source.ErrEmptySource, "source %s", src.Name())
			p.logger.Warn("source returned no valid assets",
				zap.String("source", src.Name()),
				zap.Int("raw", len(raw)),
			)
			continue
		}

		ts := p.now().UnixMilli()
		p.publish(assets, src.Name(), false, ts)
		p.notifyUpdated(assets, src.Name(), false, ts)
		p.logger.Info("cycle complete",
			zap.String("source", src.Name()),
			zap.Int("assets", len(assets)),
			zap.Duration("duration", p.now().Sub(start)),
		)
		return true
	}

	if lastErr == nil {
		lastErr = errors.New("no live sources configured")
	}

	ts := p.now().UnixMilli()
	assets, err := p.synthesize(p.previousByID(), ts)
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("synthetic fallback failed, nothing published",
			zap.NamedError("source_error", lastErr),
			zap.Error(err),
		)
		return true
	}

	p.fallbacks.Add(1)
	p.publish(assets, model.SourceSynthetic, true, ts)
	p.notifyFallback(Fallback{
		Message:   lastErr.Error(),
		Source:    model.SourceSynthetic,
		UpdatedAt: ts,
	})
	p.logger.Warn("cycle fell back to synthetic data",
		zap.Error(lastErr),
		zap.Int("assets", len(assets)),
	)
	p.notifyUpdated(assets, model.SourceSynthetic, true, ts)
	return true
}

// publish swaps the snapshot and records history under one write lock.
func (p *Pipeline) publish(assets []model.Asset, src string, usedFallback bool, ts int64) {
	samples := make(map[string]model.HistorySample, len(assets))
	for _, a := range assets {
		samples[a.ID] = model.SampleOf(a, ts)
	}

	p.mu.Lock()
	p.snapshot = &model.Snapshot{
		Assets:       assets,
		Source:       src,
		UsedFallback: usedFallback,
		UpdatedAt:    ts,
	}
	p.history.AppendBatch(samples)
	p.mu.Unlock()
}

func (p *Pipeline) previousByID() map[string]model.Asset {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return nil
	}
	out := make(map[string]model.Asset, len(p.snapshot.Assets))
	for _, a := range p.snapshot.Assets {
		out[a.ID] = a
	}
	return out
}

func (p *Pipeline) notifyUpdated(assets []model.Asset, src string, usedFallback bool, ts int64) {
	p.forEachObserver(func(o Observer) {
		// Each observer gets its own copy.
		snap := model.Snapshot{Assets: assets}
		o.OnAssetsUpdated(AssetsUpdated{
			Assets:       snap.Copy().Assets,
			Source:       src,
			UsedFallback: usedFallback,
			UpdatedAt:    ts,
		})
	})
}

func (p *Pipeline) notifyFallback(f Fallback) {
	p.forEachObserver(func(o Observer) { o.OnFallback(f) })
}

func (p *Pipeline) forEachObserver(fn func(Observer)) {
	p.obsMu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("observer panicked", zap.Any("panic", r))
				}
			}()
			fn(o)
		}()
	}
}

// Snapshot returns a copy of the last published snapshot.
func (p *Pipeline) Snapshot() (model.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return model.Snapshot{Assets: []model.Asset{}}, false
	}
	return p.snapshot.Copy(), true
}

// Assets returns the published assets ordered by rank.
func (p *Pipeline) Assets() []model.Asset {
	snap, _ := p.Snapshot()
	return snap.Assets
}

// Asset returns one published asset by id.
func (p *Pipeline) Asset(id string) (model.Asset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return model.Asset{}, false
	}
	for _, a := range p.snapshot.Assets {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return model.Asset{}, false
}

// History returns the samples recorded for id, oldest first.
func (p *Pipeline) History(id string) []model.HistorySample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Get(id)
}

// LastUpdated returns the publish time in unix milliseconds, 0 before the first publish.
func (p *Pipeline) LastUpdated() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return 0
	}
	return p.snapshot.UpdatedAt
}

// DataSource returns the source tag of the published snapshot, "" before the first publish.
func (p *Pipeline) DataSource() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return ""
	}
	return p.snapshot.Source
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	var (
		src     string
		n       int
		updated int64
	)
	if p.snapshot != nil {
		src = p.snapshot.Source
		n = len(p.snapshot.Assets)
		updated = p.snapshot.UpdatedAt
	}
	p.mu.RUnlock()

	return Stats{
		Cycles:      p.cycles.Load(),
		Skipped:     p.skipped.Load(),
		Fallbacks:   p.fallbacks.Load(),
		Failures:    p.failures.Load(),
		Source:      src,
		Assets:      n,
		LastUpdated: updated,
	}
}
