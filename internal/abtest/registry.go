package abtest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registry stores test configurations and their counts.
type Registry interface {
	Create(ctx context.Context, cfg Config) error
	Get(ctx context.Context, id string) (Config, error)
	List(ctx context.Context) ([]Config, error)
	ListActive(ctx context.Context) ([]Config, error)
	// UpdateStatus moves a test from one status to another. It fails with
	// ErrStatusConflict if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (Config, error)
	AddCounts(ctx context.Context, id string, delta Counts) error
	Counts(ctx context.Context, id string) (Counts, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tests  map[string]Config
	counts map[string]Counts
	now    func() time.Time
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tests:  make(map[string]Config),
		counts: make(map[string]Counts),
		now:    time.Now,
	}
}

// Create implements Registry.
func (r *MemoryRegistry) Create(_ context.Context, cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tests[cfg.ID]; exists {
		return fmt.Errorf("%w: test %s already exists", ErrConfig, cfg.ID)
	}
	now := r.now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	r.tests[cfg.ID] = cfg
	return nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, id string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tests[id]
	if !ok {
		return Config{}, ErrNotFound
	}
	return cfg, nil
}

// List implements Registry. Tests are ordered by start time, then id.
func (r *MemoryRegistry) List(_ context.Context) ([]Config, error) {
	r.mu.RLock()
	out := make([]Config, 0, len(r.tests))
	for _, cfg := range r.tests {
		out = append(out, cfg)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Config) int {
		if c := a.StartAt.Compare(b.StartAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// ListActive implements Registry.
func (r *MemoryRegistry) ListActive(ctx context.Context) ([]Config, error) {
	all, _ := r.List(ctx)
	return slices.DeleteFunc(all, func(c Config) bool { return c.Status != StatusActive }), nil
}

// UpdateStatus implements Registry.
func (r *MemoryRegistry) UpdateStatus(_ context.Context, id string, from, to Status) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.tests[id]
	if !ok {
		return Config{}, ErrNotFound
	}
	if cfg.Status != from {
		return Config{}, ErrStatusConflict
	}
	cfg.Status = to
	cfg.UpdatedAt = r.now().UTC()
	r.tests[id] = cfg
	return cfg, nil
}

// AddCounts implements Registry.
func (r *MemoryRegistry) AddCounts(_ context.Context, id string, delta Counts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tests[id]; !ok {
		return ErrNotFound
	}
	r.counts[id] = r.counts[id].Add(delta)
	return nil
}

// Counts implements Registry.
func (r *MemoryRegistry) Counts(_ context.Context, id string) (Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tests[id]; !ok {
		return Counts{}, ErrNotFound
	}
	return r.counts[id], nil
}
