package abtest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Recorder defaults.
const (
	DefaultBufferSize    = 4096
	DefaultFlushInterval = 5 * time.Second
	flushTimeout         = 5 * time.Second
)

// EventKind distinguishes exposures from conversions.
type EventKind uint8

// Event kinds.
const (
	KindExposure EventKind = iota + 1
	KindConversion
)

// Event is one exposure or conversion.
type Event struct {
	TestID string
	Group  Group
	Kind   EventKind
}

// CountSink receives aggregated count deltas. Registry implements it.
type CountSink interface {
	AddCounts(ctx context.Context, id string, delta Counts) error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	BufferSize    int
	FlushInterval time.Duration
	Sink          CountSink
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Recorder buffers events on a bounded channel. Producers never block: when
// the buffer is full the event is dropped and counted. Run drains the
// channel, aggregates per test and flushes deltas to the sink.
type Recorder struct {
	events        chan Event
	sink          CountSink
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	accepted atomic.Int64
	dropped  atomic.Int64

	// pending is owned by the Run goroutine.
	pending map[string]Counts
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		events:        make(chan Event, cfg.BufferSize),
		sink:          cfg.Sink,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		pending:       make(map[string]Counts),
	}
}

// RecordExposure implements ExposureRecorder.
func (r *Recorder) RecordExposure(testID string, g Group) {
	r.Record(Event{TestID: testID, Group: g, Kind: KindExposure})
}

// RecordConversion enqueues a conversion for group g.
func (r *Recorder) RecordConversion(testID string, g Group) bool {
	return r.Record(Event{TestID: testID, Group: g, Kind: KindConversion})
}

// Record enqueues ev without blocking. It returns false if ev was dropped.
func (r *Recorder) Record(ev Event) bool {
	select {
	case r.events <- ev:
		r.accepted.Add(1)
		return true
	default:
		r.dropped.Add(1)
		r.metrics.incDropped()
		return false
	}
}

// Accepted returns the number of events enqueued.
func (r *Recorder) Accepted() int64 { return r.accepted.Load() }

// Dropped returns the number of events dropped on a full buffer.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run consumes events until ctx is done, then drains what is buffered and
// flushes once more.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case <-ticker.C:
			r.flush(ctx)
		case <-ctx.Done():
			r.drain()
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			r.flush(fctx)
			cancel()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		default:
			return
		}
	}
}

func (r *Recorder) apply(ev Event) {
	r.metrics.observeEvent(ev)

	c := r.pending[ev.TestID]
	switch {
	case ev.Kind == KindExposure && ev.Group == GroupTreatment:
		c.TreatmentExposures++
	case ev.Kind == KindExposure:
		c.ControlExposures++
	case ev.Kind == KindConversion && ev.Group == GroupTreatment:
		c.TreatmentConversions++
	case ev.Kind == KindConversion:
		c.ControlConversions++
	}
	r.pending[ev.TestID] = c
}

// flush sends pending deltas to the sink. Failed deltas stay pending and are
// retried on the next flush, except for tests the sink no longer knows.
func (r *Recorder) flush(ctx context.Context) {
	if r.sink == nil {
		clear(r.pending)
		return
	}
	for id, delta := range r.pending {
		if delta.IsZero() {
			delete(r.pending, id)
			continue
		}
		err := r.sink.AddCounts(ctx, id, delta)
		switch {
		case err == nil:
			delete(r.pending, id)
		case errors.Is(err, ErrNotFound):
			r.logger.WarnContext(ctx, "dropping counts for unknown a/b test", "test_id", id)
			delete(r.pending, id)
		default:
			r.metrics.incFlushError()
			r.logger.ErrorContext(ctx, "failed to flush a/b test counts",
				"test_id", id,
				"error", err)
		}
	}
}
