package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// SQLite-backed Store implementation.
//
// Every saved prediction is kept; reads look at the latest prediction per
// member (highest row id). Ordering: probability DESC, then member id ASC.

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	member_id TEXT NOT NULL,
	probability REAL NOT NULL,
	label INTEGER NOT NULL,
	risk_level TEXT NOT NULL,
	threshold REAL NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	predicted_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_member ON predictions(member_id, id);
`

const latestSelect = `
SELECT p.member_id, p.probability, p.label, p.risk_level, p.threshold, p.run_id, p.predicted_at
FROM predictions p
JOIN (SELECT member_id, MAX(id) AS id FROM predictions GROUP BY member_id) latest ON p.id = latest.id
`

// SQLiteStore implements Store. It is safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewSQLiteStore opens dsn and creates the schema.
func NewSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStore, dsn, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", ErrStore, err)
	}

	s := &SQLiteStore{db: db, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, predictions []model.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO predictions (member_id, probability, label, risk_level, threshold, run_id, predicted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrStore, err)
	}
	defer stmt.Close()

	for _, p := range predictions {
		_, err := stmt.ExecContext(ctx,
			p.MemberID, p.ChurnProbability, p.ChurnLabel, p.RiskLevel.String(),
			p.ThresholdUsed, p.RunID, p.PredictedAt.UnixMilli())
		if err != nil {
			metrics.RecordErrorByComponent("repository", "insert")
			return fmt.Errorf("%w: insert %s: %w", ErrStore, p.MemberID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStore, err)
	}

	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateStoredPredictions(n)
	}
	metrics.RecordStageLatency("store", float64(time.Since(start).Microseconds())/1000)
	s.log.Debug(ctx, "predictions saved", logger.Int("rows", len(predictions)))
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, memberID string) (model.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT member_id, probability, label, risk_level, threshold, run_id, predicted_at
		FROM predictions WHERE member_id = ? ORDER BY id DESC LIMIT 1`, memberID)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prediction{}, ErrNotFound
	}
	if err != nil {
		return model.Prediction{}, fmt.Errorf("%w: get %s: %w", ErrStore, memberID, err)
	}
	return p, nil
}

// TopN implements Store.
func (s *SQLiteStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, latestSelect+`ORDER BY p.probability DESC, p.member_id ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: top %d: %w", ErrStore, n, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, n)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStore, err)
		}
		entries = append(entries, Entry{Prediction: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: top %d: %w", ErrStore, n, err)
	}
	assignRanksWithTies(entries)
	return entries, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT member_id) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStore, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (model.Prediction, error) {
	var (
		p    model.Prediction
		risk string
		at   int64
	)
	if err := row.Scan(&p.MemberID, &p.ChurnProbability, &p.ChurnLabel, &risk, &p.ThresholdUsed, &p.RunID, &at); err != nil {
		return model.Prediction{}, err
	}
	level, err := model.RiskLevelFromString(risk)
	if err != nil {
		return model.Prediction{}, err
	}
	p.RiskLevel = level
	p.PredictedAt = time.UnixMilli(at).UTC()
	return p, nil
}

// assignRanksWithTies assigns ranks with proper tie handling.
// Members with the same probability get the same rank and ranks stay consecutive.
func assignRanksWithTies(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Prediction.ChurnProbability != entries[i-1].Prediction.ChurnProbability {
			rank++
		}
		entries[i].Rank = rank
	}
}
