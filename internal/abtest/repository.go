package abtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/casematch/internal/tracing"
)

// PostgresRegistry implements Registry on the ab_tests and ab_test_counts
// tables.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a new PostgresRegistry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const selectTestColumns = `
	SELECT id, control_model, treatment_model, traffic_split, start_at, end_at,
	       min_sample_size, significance_level, success_metric, max_degradation,
	       status, created_at, updated_at
	FROM ab_tests
`

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, cfg Config) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_tests", "insert")
	defer func() { endSpan(err) }()

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO ab_tests (
			id, control_model, treatment_model, traffic_split, start_at, end_at,
			min_sample_size, significance_level, success_metric, max_degradation,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err = tx.ExecContext(ctx, query,
		cfg.ID,
		cfg.ControlModel,
		cfg.TreatmentModel,
		cfg.TrafficSplit,
		cfg.StartAt,
		nullTime(cfg.EndAt),
		cfg.MinSampleSize,
		cfg.SignificanceLevel,
		cfg.SuccessMetric,
		cfg.MaxDegradation,
		string(cfg.Status),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: test %s already exists", ErrConfig, cfg.ID)
		}
		return fmt.Errorf("failed to insert a/b test: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO ab_test_counts (test_id) VALUES ($1)`, cfg.ID); err != nil {
		return fmt.Errorf("failed to insert a/b test counts: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit a/b test: %w", err)
	}
	return nil
}

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, id string) (cfg Config, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_tests", "select")
	defer func() { endSpan(err) }()

	cfg, err = scanConfig(r.db.QueryRowContext(ctx, selectTestColumns+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to get a/b test: %w", err)
	}
	return cfg, nil
}

// List implements Registry.
func (r *PostgresRegistry) List(ctx context.Context) ([]Config, error) {
	return r.list(ctx, "")
}

// ListActive implements Registry.
func (r *PostgresRegistry) ListActive(ctx context.Context) ([]Config, error) {
	return r.list(ctx, StatusActive)
}

func (r *PostgresRegistry) list(ctx context.Context, status Status) (tests []Config, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_tests", "select")
	defer func() { endSpan(err) }()

	query := selectTestColumns + `
		WHERE ($1 = '' OR status = $1)
		ORDER BY start_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list a/b tests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan a/b test: %w", err)
		}
		tests = append(tests, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating a/b tests: %w", err)
	}
	return tests, nil
}

// UpdateStatus implements Registry. The update is a compare-and-set on the
// current status.
func (r *PostgresRegistry) UpdateStatus(ctx context.Context, id string, from, to Status) (cfg Config, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_tests", "update")
	defer func() { endSpan(err) }()

	query := `
		UPDATE ab_tests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id, control_model, treatment_model, traffic_split, start_at, end_at,
		          min_sample_size, significance_level, success_metric, max_degradation,
		          status, created_at, updated_at
	`
	cfg, err = scanConfig(r.db.QueryRowContext(ctx, query, id, string(from), string(to)))
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Config{}, fmt.Errorf("failed to update a/b test status: %w", err)
	}

	// Nothing matched: either the test is missing or its status moved on.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Config{}, getErr
	}
	return Config{}, ErrStatusConflict
}

// AddCounts implements Registry.
func (r *PostgresRegistry) AddCounts(ctx context.Context, id string, delta Counts) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_test_counts", "update")
	defer func() { endSpan(err) }()

	query := `
		UPDATE ab_test_counts
		SET control_exposures     = control_exposures + $2,
		    control_conversions   = control_conversions + $3,
		    treatment_exposures   = treatment_exposures + $4,
		    treatment_conversions = treatment_conversions + $5,
		    updated_at            = NOW()
		WHERE test_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id,
		delta.ControlExposures,
		delta.ControlConversions,
		delta.TreatmentExposures,
		delta.TreatmentConversions,
	)
	if err != nil {
		return fmt.Errorf("failed to add a/b test counts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to add a/b test counts: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Counts implements Registry.
func (r *PostgresRegistry) Counts(ctx context.Context, id string) (c Counts, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ab_test_counts", "select")
	defer func() { endSpan(err) }()

	query := `
		SELECT control_exposures, control_conversions, treatment_exposures, treatment_conversions
		FROM ab_test_counts
		WHERE test_id = $1
	`
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ControlExposures,
		&c.ControlConversions,
		&c.TreatmentExposures,
		&c.TreatmentConversions,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, ErrNotFound
	}
	if err != nil {
		return Counts{}, fmt.Errorf("failed to get a/b test counts: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (Config, error) {
	var (
		cfg    Config
		endAt  sql.NullTime
		status string
	)
	err := row.Scan(
		&cfg.ID,
		&cfg.ControlModel,
		&cfg.TreatmentModel,
		&cfg.TrafficSplit,
		&cfg.StartAt,
		&endAt,
		&cfg.MinSampleSize,
		&cfg.SignificanceLevel,
		&cfg.SuccessMetric,
		&cfg.MaxDegradation,
		&status,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return Config{}, err
	}
	if endAt.Valid {
		cfg.EndAt = endAt.Time
	}
	cfg.Status = Status(strings.TrimSpace(status))
	return cfg, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
