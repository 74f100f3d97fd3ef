package drift

import (
	"sync"
	"time"

	"github.com/onnwee/casematch/internal/feature"
)

// DefaultCapacity is the number of samples kept per model.
const DefaultCapacity = 20000

// Sample is one scored candidate as seen by the ranking engine.
type Sample struct {
	At         time.Time
	Features   feature.Vector
	Prediction float64
}

// ring is a fixed-capacity circular buffer of samples in insertion order.
type ring struct {
	buf  []Sample
	next int
	full bool
}

func (r *ring) push(s Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []Sample {
	if !r.full {
		return append([]Sample(nil), r.buf[:r.next]...)
	}
	out := make([]Sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Store keeps a bounded history of samples per model, plus an optional
// pinned baseline. It is safe for concurrent use.
type Store struct {
	capacity int

	mu        sync.RWMutex
	samples   map[string]*ring
	baselines map[string][]Sample
}

// NewStore creates a Store holding up to capacity samples per model.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity:  capacity,
		samples:   make(map[string]*ring),
		baselines: make(map[string][]Sample),
	}
}

// Append adds samples for model, evicting the oldest beyond capacity.
func (s *Store) Append(model string, samples ...Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.samples[model]
	if !ok {
		r = &ring{buf: make([]Sample, s.capacity)}
		s.samples[model] = r
	}
	for _, smp := range samples {
		r.push(smp)
	}
}

// Snapshot returns a copy of the samples for model, oldest first.
func (s *Store) Snapshot(model string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.samples[model]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Len returns the number of samples held for model.
func (s *Store) Len(model string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.samples[model]; ok {
		return r.len()
	}
	return 0
}

// Models returns the models with at least one sample.
func (s *Store) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.samples))
	for m := range s.samples {
		out = append(out, m)
	}
	return out
}

// PinBaseline freezes baseline as the reference distribution for model.
// Passing nil unpins it, and the history before the current window is used
// instead.
func (s *Store) PinBaseline(model string, baseline []Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseline == nil {
		delete(s.baselines, model)
		return
	}
	s.baselines[model] = append([]Sample(nil), baseline...)
}

// Baseline returns the pinned baseline for model, if any.
func (s *Store) Baseline(model string) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[model]
	return b, ok
}
