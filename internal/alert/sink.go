package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel alerts are published on.
const DefaultChannel = "casematch:alerts"

// Sink receives alerts.
type Sink interface {
	Emit(ctx context.Context, a ModelAlert) error
}

// MemorySink keeps alerts in memory. It backs the alert listing in tests and
// single-node deployments.
type MemorySink struct {
	mu     sync.RWMutex
	alerts []ModelAlert
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, a ModelAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

// Alerts returns a copy of all alerts, oldest first.
func (s *MemorySink) Alerts() []ModelAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.alerts)
}

// Active returns unresolved alerts for model, or for every model when model
// is empty.
func (s *MemorySink) Active(model string) []ModelAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ModelAlert
	for _, a := range s.alerts {
		if !a.Resolved && (model == "" || a.Model == model) {
			out = append(out, a)
		}
	}
	return out
}

// CountByType returns the number of alerts per type.
func (s *MemorySink) CountByType() map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Type]int)
	for _, a := range s.alerts {
		counts[a.Type]++
	}
	return counts
}

// Resolve marks an alert resolved.
func (s *MemorySink) Resolve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			if !s.alerts[i].Resolved {
				now := time.Now().UTC()
				s.alerts[i].Resolved = true
				s.alerts[i].ResolvedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, a ModelAlert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "model alert",
		"alert_id", a.ID,
		"model", a.Model,
		"type", string(a.Type),
		"severity", string(a.Severity),
		"message", a.Message,
		"metrics", a.Metrics,
	)
	return nil
}

// RedisSink publishes alerts as JSON on a Redis channel for notification
// workers.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a RedisSink. An empty channel uses DefaultChannel.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, a ModelAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Dispatcher fans an alert out to several sinks. A failing sink does not
// stop delivery to the others.
type Dispatcher struct {
	sinks   []Sink
	metrics *Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over sinks.
func NewDispatcher(metrics *Metrics, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, metrics: metrics, logger: logger}
}

// Emit implements Sink. It returns the joined errors of the failing sinks.
func (d *Dispatcher) Emit(ctx context.Context, a ModelAlert) error {
	d.metrics.incEmitted(a.Type, a.Severity)

	var errs []error
	for _, s := range d.sinks {
		if err := s.Emit(ctx, a); err != nil {
			d.metrics.incSinkError()
			d.logger.WarnContext(ctx, "alert sink failed",
				"alert_id", a.ID,
				"sink", fmt.Sprintf("%T", s),
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
