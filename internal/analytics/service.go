package analytics

import (
	"github.com/rickgao/marketfeed/internal/model"
)

// Reader is the read side of the ingestion pipeline.
type Reader interface {
	Snapshot() (model.Snapshot, bool)
	History(id string) []model.HistorySample
}

// Service evaluates analytics against the latest snapshot of a Reader.
type Service struct {
	r Reader
}

// NewService creates a service over r.
func NewService(r Reader) *Service {
	return &Service{r: r}
}

func (s *Service) snapshot() model.Snapshot {
	snap, _ := s.r.Snapshot()
	return snap
}

// Summary summarizes the latest snapshot.
func (s *Service) Summary() Summary {
	return Summarize(s.snapshot())
}

// TopMovers ranks the latest snapshot by 24h change.
func (s *Service) TopMovers(limit int) Movers {
	return TopMovers(s.snapshot().Assets, limit)
}

// ChangeDistribution buckets the latest snapshot by 24h change.
func (s *Service) ChangeDistribution() []Bucket {
	return ChangeDistribution(s.snapshot().Assets)
}

// Dominance returns size shares of the top assets.
func (s *Service) Dominance(limit int) []Share {
	return Dominance(s.snapshot().Assets, limit)
}

// Velocity measures the most recent per-asset price moves.
func (s *Service) Velocity() VelocityStats {
	return Velocity(s.snapshot().Assets, s.r.History)
}

// Metrics is the body of the periodic metrics broadcast.
type Metrics struct {
	Summary  Summary       `json:"summary"`
	Velocity VelocityStats `json:"velocity"`
}

// Metrics returns the broadcast body, or false before the first publish.
func (s *Service) Metrics() (any, bool) {
	snap, ok := s.r.Snapshot()
	if !ok {
		return nil, false
	}
	return Metrics{
		Summary:  Summarize(snap),
		Velocity: Velocity(snap.Assets, s.r.History),
	}, true
}
