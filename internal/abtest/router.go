package abtest

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// DefaultModel is served when no test is active.
const DefaultModel = "default"

// Assignment is the variant chosen for one request. TestID is empty when the
// request is not part of a running test.
type Assignment struct {
	ModelID string `json:"model_id"`
	Group   Group  `json:"group"`
	TestID  string `json:"test_id,omitempty"`
}

// ExposureRecorder receives exposures. Record must not block.
type ExposureRecorder interface {
	RecordExposure(testID string, g Group)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	DefaultModel string
	Registry     Registry
	Recorder     ExposureRecorder
	Logger       *slog.Logger
	Now          func() time.Time
}

// Router assigns users to test groups.
type Router struct {
	defaultModel string
	registry     Registry
	recorder     ExposureRecorder
	logger       *slog.Logger
	now          func() time.Time
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		defaultModel: cfg.DefaultModel,
		registry:     cfg.Registry,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Bucket maps (userID, testID) to a stable bucket in [0, 100).
func Bucket(userID, testID string) int {
	sum := sha256.Sum256([]byte(userID + ":" + testID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// GroupFor returns the group of userID in test.
func GroupFor(userID string, test Config) Group {
	if float64(Bucket(userID, test.ID)) < test.TrafficSplit*100 {
		return GroupTreatment
	}
	return GroupControl
}

// Assign picks the variant for userID among tests. Only active tests are
// considered, and among those the earliest-starting one inside its validity
// window wins. When every active test is outside its window the earliest one
// serves its control model and records nothing. Without an active test the
// default model is served.
func (r *Router) Assign(userID string, tests []Config) Assignment {
	test, inWindow, ok := selectTest(tests, r.now())
	if !ok {
		return Assignment{ModelID: r.defaultModel, Group: GroupControl}
	}
	if !inWindow {
		return Assignment{ModelID: test.ControlModel, Group: GroupControl}
	}

	g := GroupFor(userID, test)
	if r.recorder != nil {
		r.recorder.RecordExposure(test.ID, g)
	}
	return Assignment{ModelID: test.ModelFor(g), Group: g, TestID: test.ID}
}

// AssignVariant loads the active tests from the registry and assigns userID.
// If the registry fails the default model is served and the error returned.
func (r *Router) AssignVariant(ctx context.Context, userID string) (Assignment, error) {
	if r.registry == nil {
		return r.Assign(userID, nil), nil
	}
	tests, err := r.registry.ListActive(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load active a/b tests, serving default model", "error", err)
		return Assignment{ModelID: r.defaultModel, Group: GroupControl}, fmt.Errorf("list active tests: %w", err)
	}
	return r.Assign(userID, tests), nil
}

// selectTest returns the earliest-starting active test inside its window,
// or failing that the earliest-starting active test outside it.
func selectTest(tests []Config, now time.Time) (test Config, inWindow, ok bool) {
	var live, idle []Config
	for _, t := range tests {
		if t.Status != StatusActive {
			continue
		}
		if t.InWindow(now) {
			live = append(live, t)
		} else {
			idle = append(idle, t)
		}
	}
	switch {
	case len(live) > 0:
		return slices.MinFunc(live, byStart), true, true
	case len(idle) > 0:
		return slices.MinFunc(idle, byStart), false, true
	default:
		return Config{}, false, false
	}
}

func byStart(a, b Config) int {
	if c := a.StartAt.Compare(b.StartAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
