package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/onnwee/casematch/internal/tracing"
)

// PostgresSink stores alerts in the model_alerts table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a new PostgresSink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Emit implements Sink.
func (r *PostgresSink) Emit(ctx context.Context, a ModelAlert) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "model_alerts", "insert")
	defer func() { endSpan(err) }()

	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode alert metrics: %w", err)
	}

	query := `
		INSERT INTO model_alerts (
			id, model, type, severity, message, metrics, created_at, resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.Model,
		string(a.Type),
		string(a.Severity),
		a.Message,
		metrics,
		a.Timestamp,
		a.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Resolve marks an alert resolved.
func (r *PostgresSink) Resolve(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "model_alerts", "update")
	defer func() { endSpan(err) }()

	query := `
		UPDATE model_alerts
		SET resolved = TRUE, resolved_at = COALESCE(resolved_at, NOW())
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Active returns unresolved alerts for model, newest first. An empty model
// returns alerts for every model.
func (r *PostgresSink) Active(ctx context.Context, model string, limit int) (alerts []ModelAlert, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "model_alerts", "select")
	defer func() { endSpan(err) }()

	query := `
		SELECT id, model, type, severity, message, metrics, created_at, resolved, resolved_at
		FROM model_alerts
		WHERE resolved = FALSE AND ($1 = '' OR model = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a          ModelAlert
			typ, sev   string
			metrics    []byte
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Model, &typ, &sev, &a.Message, &metrics, &a.Timestamp, &a.Resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Type = Type(typ)
		a.Severity = Severity(sev)
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &a.Metrics); err != nil {
				return nil, fmt.Errorf("failed to decode alert metrics: %w", err)
			}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}
