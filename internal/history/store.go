package history

import (
	"sync"

	"github.com/rickgao/marketfeed/internal/model"
)

// DefaultCapacity is one sample per 15s cycle over a 72 minute window.
const DefaultCapacity = 288

// ring is a fixed-capacity FIFO of samples.
type ring struct {
	buf   []model.HistorySample
	head  int // oldest sample
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.HistorySample, capacity)}
}

func (r *ring) push(s model.HistorySample) {
	capacity := len(r.buf)
	tail := (r.head + r.count) % capacity
	r.buf[tail] = s
	if r.count < capacity {
		r.count++
		return
	}
	// Full: the write overwrote the oldest slot.
	r.head = (r.head + 1) % capacity
}

func (r *ring) snapshot() []model.HistorySample {
	out := make([]model.HistorySample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Store holds one ring per asset id. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

// NewStore creates a store. capacity <= 0 uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Append records a sample for id. Non-finite samples are ignored.
func (s *Store) Append(id string, sample model.HistorySample) {
	if !sample.IsFinite() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(id, sample)
}

// AppendBatch records one sample per asset under a single lock.
// Readers see either none or all of the batch.
func (s *Store) AppendBatch(samples map[string]model.HistorySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sample := range samples {
		if sample.IsFinite() {
			s.appendLocked(id, sample)
		}
	}
}

func (s *Store) appendLocked(id string, sample model.HistorySample) {
	r, ok := s.rings[id]
	if !ok {
		r = newRing(s.capacity)
		s.rings[id] = r
	}
	r.push(sample)
}

// Get returns the samples for id, oldest first. Unknown ids yield an empty slice.
func (s *Store) Get(id string) []model.HistorySample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[id]
	if !ok {
		return []model.HistorySample{}
	}
	return r.snapshot()
}

// Len returns the number of samples held for id.
func (s *Store) Len(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rings[id]; ok {
		return r.count
	}
	return 0
}

// Capacity returns the per-asset sample limit.
func (s *Store) Capacity() int {
	return s.capacity
}
