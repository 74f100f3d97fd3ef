package drift

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/onnwee/casematch/internal/feature"
)

// DefaultSamplerBuffer is the capacity of the sampler's event channel.
const DefaultSamplerBuffer = 8192

type observation struct {
	model  string
	sample Sample
}

// Sampler feeds scored candidates from the ranking engine into a Store. It
// implements ranking.Observer; Observe never blocks and drops samples when
// the buffer is full.
type Sampler struct {
	store   *Store
	events  chan observation
	now     func() time.Time
	metrics *Metrics

	dropped atomic.Int64
}

// NewSampler creates a Sampler writing to store.
func NewSampler(store *Store, buffer int, metrics *Metrics) *Sampler {
	if buffer <= 0 {
		buffer = DefaultSamplerBuffer
	}
	return &Sampler{
		store:   store,
		events:  make(chan observation, buffer),
		now:     time.Now,
		metrics: metrics,
	}
}

// Observe enqueues one scored candidate.
func (s *Sampler) Observe(model string, features feature.Vector, prediction float64) {
	obs := observation{model: model, sample: Sample{At: s.now(), Features: features, Prediction: prediction}}
	select {
	case s.events <- obs:
	default:
		s.dropped.Add(1)
		s.metrics.incDropped()
	}
}

// Dropped returns the number of samples dropped on a full buffer.
func (s *Sampler) Dropped() int64 { return s.dropped.Load() }

// Run moves samples into the store until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	for {
		select {
		case obs := <-s.events:
			s.store.Append(obs.model, obs.sample)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *Sampler) drain() {
	for {
		select {
		case obs := <-s.events:
			s.store.Append(obs.model, obs.sample)
		default:
			return
		}
	}
}
