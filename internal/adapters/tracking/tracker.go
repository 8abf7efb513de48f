// Package tracking records experiments, runs, params, metrics and artifacts
// in an embedded SQLite database.
package tracking

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Run statuses.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
	StatusKilled   = "KILLED"
)

const (
	defaultExperiment = "Default"
	artifactDirPerm   = 0o750
)

//go:embed sql/ddl.sql
var ddl embed.FS

// SQLiteTracker implements experiment tracking on SQLite. Runs form a stack:
// a nested run is pushed on top of the active one and ending it reactivates
// its parent.
type SQLiteTracker struct {
	db          *sql.DB
	artifactURI string
	artifactDir string
	log         logger.Logger
	now         func() time.Time

	mu           sync.Mutex
	experimentID string
	runs         []string
}

// New opens dsn, creates the schema and checks the connection. Both dsn and
// artifactRoot are required.
func New(ctx context.Context, dsn, artifactRoot string, opts ...Option) (*SQLiteTracker, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: tracking dsn is empty", ErrTrackingConfig)
	}
	if strings.TrimSpace(artifactRoot) == "" {
		return nil, fmt.Errorf("%w: artifact root is empty", ErrTrackingConfig)
	}

	t := &SQLiteTracker{
		log: logger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	uri, err := NormalizeArtifactURI(artifactRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrackingConfig, err)
	}
	t.artifactURI = uri
	if dir, ok := strings.CutPrefix(uri, "file:"); ok {
		t.artifactDir = dir
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTrackingSetup, dsn, err)
	}
	// :memory: databases live per connection.
	db.SetMaxOpenConns(1)

	schema, err := ddl.ReadFile("sql/ddl.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: read schema: %w", ErrTrackingSetup, err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", ErrTrackingSetup, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrTrackingSetup, err)
	}
	t.db = db

	t.log.Info(ctx, "tracking configured", logger.String("artifact_uri", uri))
	return t, nil
}

// Close releases the database.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

// ArtifactURI returns the normalized artifact location.
func (t *SQLiteTracker) ArtifactURI() string { return t.artifactURI }

// SetupExperiment selects the experiment called name, creating it if needed.
func (t *SQLiteTracker) SetupExperiment(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setupExperiment(ctx, name)
}

func (t *SQLiteTracker) setupExperiment(ctx context.Context, name string) (string, error) {
	var id string
	err := t.db.QueryRowContext(ctx, `SELECT id FROM experiments WHERE name = ?`, name).Scan(&id)
	switch {
	case err == nil:
		t.log.Info(ctx, "using existing experiment", logger.String("experiment", name))
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = t.db.ExecContext(ctx,
			`INSERT INTO experiments (id, name, artifact_location, created_at) VALUES (?, ?, ?, ?)`,
			id, name, t.artifactURI, t.now().UnixMilli())
		if err != nil {
			return "", fmt.Errorf("%w: create experiment %q: %w", ErrTrackingSetup, name, err)
		}
		t.log.Info(ctx, "experiment created", logger.String("experiment", name), logger.String("id", id))
	default:
		return "", fmt.Errorf("%w: lookup experiment %q: %w", ErrTrackingSetup, name, err)
	}
	t.experimentID = id
	return id, nil
}

// StartRun starts a run and makes it active. Unless nested is set, an active
// run left over from a previous step is finished first.
func (t *SQLiteTracker) StartRun(ctx context.Context, name string, nested bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.experimentID == "" {
		if _, err := t.setupExperiment(ctx, defaultExperiment); err != nil {
			return "", err
		}
	}

	var parent sql.NullString
	if active, ok := t.active(); ok {
		if nested {
			parent = sql.NullString{String: active, Valid: true}
			t.log.Info(ctx, "starting nested run", logger.String("parent", active))
		} else {
			t.log.Warn(ctx, "closing stale active run", logger.String("run_id", active))
			if err := t.endRun(ctx, StatusFinished); err != nil {
				return "", err
			}
		}
	}

	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment_id, parent_id, name, status, start_time) VALUES (?, ?, ?, ?, ?, ?)`,
		id, t.experimentID, parent, name, StatusRunning, t.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("%w: start run %q: %w", ErrTrackingSetup, name, err)
	}
	t.runs = append(t.runs, id)
	t.log.Info(ctx, "run started", logger.String("run", name), logger.String("run_id", id))
	return id, nil
}

// EndRun ends the active run with status. It is a no-op without an active run.
func (t *SQLiteTracker) EndRun(ctx context.Context, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endRun(ctx, status)
}

func (t *SQLiteTracker) endRun(ctx context.Context, status string) error {
	id, ok := t.active()
	if !ok {
		return nil
	}
	if status == "" {
		status = StatusFinished
	}
	_, err := t.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, end_time = ? WHERE id = ?`, status, t.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	t.runs = t.runs[:len(t.runs)-1]
	metrics.RecordTrackingRun(status)
	t.log.Info(ctx, "run ended", logger.String("run_id", id), logger.String("status", status))
	return nil
}

// ActiveRun returns the innermost active run.
func (t *SQLiteTracker) ActiveRun() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active()
}

func (t *SQLiteTracker) active() (string, bool) {
	if len(t.runs) == 0 {
		return "", false
	}
	return t.runs[len(t.runs)-1], true
}

// LogParams records params on the active run. Values are stored as text.
func (t *SQLiteTracker) LogParams(ctx context.Context, params map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active()
	if !ok {
		return ErrNoActiveRun
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("log params: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO params (run_id, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("log params: %w", err)
	}
	defer stmt.Close()

	for _, k := range sortedKeys(params) {
		if _, err := stmt.ExecContext(ctx, id, k, fmt.Sprint(params[k])); err != nil {
			return fmt.Errorf("log param %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LogMetrics records metrics on the active run at step 0.
func (t *SQLiteTracker) LogMetrics(ctx context.Context, values map[string]float64) error {
	for _, k := range sortedKeys(values) {
		if err := t.LogMetric(ctx, k, values[k], 0); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric records one metric value at step on the active run.
func (t *SQLiteTracker) LogMetric(ctx context.Context, key string, value float64, step int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active()
	if !ok {
		return ErrNoActiveRun
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO metrics (run_id, key, value, step, ts) VALUES (?, ?, ?, ?, ?)`,
		id, key, value, step, t.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	return nil
}

// LogArtifact attaches the file at path to the active run. With a local
// artifact root the file is copied under <root>/<run id>/.
func (t *SQLiteTracker) LogArtifact(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active()
	if !ok {
		return ErrNoActiveRun
	}

	name := filepath.Base(path)
	uri := strings.TrimSuffix(t.artifactURI, "/") + "/" + id + "/" + name
	if t.artifactDir != "" {
		dst := filepath.Join(t.artifactDir, id, name)
		if err := copyFile(path, dst); err != nil {
			return fmt.Errorf("log artifact %s: %w", path, err)
		}
		uri = "file:" + dst
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (run_id, path, uri) VALUES (?, ?, ?)`, id, name, uri)
	if err != nil {
		return fmt.Errorf("log artifact %s: %w", path, err)
	}
	t.log.Debug(ctx, "artifact logged", logger.String("run_id", id), logger.String("uri", uri))
	return nil
}

// NormalizeArtifactURI keeps URIs with a known scheme and turns bare paths
// into absolute file: URIs.
func NormalizeArtifactURI(root string) (string, error) {
	for _, prefix := range []string{"file:", "http", "s3", "gs"} {
		if strings.HasPrefix(root, prefix) {
			return root, nil
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve artifact root %q: %w", root, err)
	}
	return "file:" + abs, nil
}

// RunName builds a run name of the form PREFIX_YYYYMMDD_HHMMSS_xxxx.
func RunName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, now.UTC().Format("20060102_150405"), uuid.NewString()[:4])
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), artifactDirPerm); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
