package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is the stored state of a tracked run.
type Run struct {
	ID           string
	ExperimentID string
	ParentID     string
	Name         string
	Status       string
	StartTime    time.Time
	EndTime      *time.Time
	Params       map[string]string
	// Metrics holds every logged value per key, ordered by step.
	Metrics   map[string][]float64
	Artifacts map[string]string
}

// GetRun loads a run with its params, metrics and artifacts.
func (t *SQLiteTracker) GetRun(ctx context.Context, id string) (Run, error) {
	r := Run{
		ID:        id,
		Params:    map[string]string{},
		Metrics:   map[string][]float64{},
		Artifacts: map[string]string{},
	}

	var (
		parent sql.NullString
		start  int64
		end    sql.NullInt64
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT experiment_id, parent_id, name, status, start_time, end_time FROM runs WHERE id = ?`, id).
		Scan(&r.ExperimentID, &parent, &r.Name, &r.Status, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	r.ParentID = parent.String
	r.StartTime = time.UnixMilli(start).UTC()
	if end.Valid {
		e := time.UnixMilli(end.Int64).UTC()
		r.EndTime = &e
	}

	if err := t.scanPairs(ctx, `SELECT key, value FROM params WHERE run_id = ?`, id, func(k, v string) {
		r.Params[k] = v
	}); err != nil {
		return Run{}, err
	}
	if err := t.scanPairs(ctx, `SELECT path, uri FROM artifacts WHERE run_id = ?`, id, func(k, v string) {
		r.Artifacts[k] = v
	}); err != nil {
		return Run{}, err
	}

	rows, err := t.db.QueryContext(ctx, `SELECT key, value FROM metrics WHERE run_id = ? ORDER BY key, step`, id)
	if err != nil {
		return Run{}, fmt.Errorf("get run metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			value float64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return Run{}, fmt.Errorf("scan metric: %w", err)
		}
		r.Metrics[key] = append(r.Metrics[key], value)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("get run metrics: %w", err)
	}
	return r, nil
}

func (t *SQLiteTracker) scanPairs(ctx context.Context, query, id string, fn func(k, v string)) error {
	rows, err := t.db.QueryContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("query run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan run %s: %w", id, err)
		}
		fn(k, v)
	}
	return rows.Err()
}
