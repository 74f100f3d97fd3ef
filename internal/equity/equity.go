// Package equity supplies the per-lawyer equity weight used to adjust raw
// match scores. Weights come from an external fairness service; this package
// only fixes their contract: a float in [0, 1], 1.0 when unknown.
package equity

import (
	"context"
	"errors"
	"math"
	"sync"
)

// DefaultWeight is used for lawyers the fairness service has no weight for.
// At 1.0 the equity adjustment leaves the raw score unchanged.
const DefaultWeight = 1.0

// ErrInvalidWeight is returned for a weight outside [0, 1].
var ErrInvalidWeight = errors.New("invalid equity weight: must be between 0.0 and 1.0")

// ValidateWeight checks that w is within [0, 1].
func ValidateWeight(w float64) error {
	if math.IsNaN(w) || w < 0 || w > 1 {
		return ErrInvalidWeight
	}
	return nil
}

// Provider returns equity weights. Implementations return DefaultWeight for
// unknown lawyers rather than an error.
type Provider interface {
	Weight(ctx context.Context, lawyerID string) (float64, error)
}

// Static is a Provider that returns the same weight for every lawyer.
type Static float64

// Weight implements Provider.
func (s Static) Weight(context.Context, string) (float64, error) {
	return float64(s), nil
}

// MemoryStore is an in-memory Provider fed by the fairness service.
type MemoryStore struct {
	mu      sync.RWMutex
	weights map[string]float64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{weights: make(map[string]float64)}
}

// Set stores the weight for a lawyer.
func (s *MemoryStore) Set(lawyerID string, w float64) error {
	if err := ValidateWeight(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[lawyerID] = w
	return nil
}

// SetAll replaces all weights. Nothing is stored if any weight is invalid.
func (s *MemoryStore) SetAll(weights map[string]float64) error {
	next := make(map[string]float64, len(weights))
	for id, w := range weights {
		if err := ValidateWeight(w); err != nil {
			return err
		}
		next[id] = w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = next
	return nil
}

// Weight implements Provider.
func (s *MemoryStore) Weight(_ context.Context, lawyerID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weights[lawyerID]
	if !ok {
		return DefaultWeight, nil
	}
	return w, nil
}

// Len returns the number of stored weights.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.weights)
}
