// Package journal records the history of extract, import and cleanup runs and
// the objects each run touched.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ssdeploy/internal/db/driver"
)

//go:embed schema
var schemaFS embed.FS

const schemaName = "journal"

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Dir is the per-repository state directory holding the default database.
const Dir = ".ssdeploy"

// DefaultPath is the SQLite journal of a repository rooted at deployPath.
func DefaultPath(deployPath string) string {
	return filepath.Join(deployPath, Dir, "journal.db")
}

// Kind is the type of a run.
type Kind string

const (
	KindExtract Kind = "extract"
	KindImport  Kind = "import"
	KindCleanup Kind = "cleanup"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one recorded run.
type Run struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Env        string    `json:"env"`
	Class      string    `json:"class,omitempty"`
	Name       string    `json:"name,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Warnings   int       `json:"warnings"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Object is an object touched by a run.
type Object struct {
	Class      string `json:"class"`
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// Journal is an open run history.
type Journal struct {
	drv   driver.Driver
	newID func() string
	now   func() time.Time
}

// Open opens the journal and applies pending migrations. SQLite parent
// directories are created as needed.
func Open(ctx context.Context, dialect driver.Dialect, dsn string) (*Journal, error) {
	if dialect == driver.DialectSQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	if err := drv.Migrate(ctx, schemaFS, schemaName); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{drv: drv, newID: uuid.NewString, now: time.Now}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.drv.Close()
}

// Start records a new running run.
func (j *Journal) Start(ctx context.Context, kind Kind, env, class, name string) (*Run, error) {
	run := &Run{
		ID:        j.newID(),
		Kind:      kind,
		Env:       env,
		Class:     class,
		Name:      name,
		Status:    StatusRunning,
		StartedAt: j.now().UTC(),
	}
	_, err := j.drv.Exec(ctx, `
		INSERT INTO runs (id, kind, env, class, name, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Env, run.Class, run.Name, string(run.Status), run.StartedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	return run, nil
}

// Finish stores the outcome of run together with the objects it touched.
// A nil runErr marks the run succeeded.
func (j *Journal) Finish(ctx context.Context, run *Run, objects []Object, warnings int, runErr error) error {
	run.Status = StatusSucceeded
	run.Error = ""
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	run.Warnings = warnings
	run.FinishedAt = j.now().UTC()

	tx, err := j.drv.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range objects {
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_objects (run_id, class, name, identifier) VALUES (?, ?, ?, ?)
			ON CONFLICT (run_id, class, name) DO UPDATE SET identifier = excluded.identifier`,
			run.ID, o.Class, o.Name, o.Identifier); err != nil {
			return fmt.Errorf("record run object: %w", err)
		}
	}
	res, err := tx.Exec(ctx, `
		UPDATE runs SET status = ?, error = ?, warnings = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), run.Error, run.Warnings, run.FinishedAt.Format(timeLayout), run.ID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return tx.Commit()
}

const runColumns = "id, kind, env, class, name, status, error, warnings, started_at, finished_at"

// Runs returns the most recent runs first. limit <= 0 returns every run.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.drv.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Get returns one run, or nil when the id is unknown.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	row := j.drv.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Objects returns the objects a run touched, ordered by class and name.
func (j *Journal) Objects(ctx context.Context, runID string) ([]Object, error) {
	rows, err := j.drv.Query(ctx, `
		SELECT class, name, identifier FROM run_objects WHERE run_id = ? ORDER BY class, name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var objects []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Class, &o.Name, &o.Identifier); err != nil {
			return nil, fmt.Errorf("scan run object: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run               Run
		kind, status      string
		started, finished string
	)
	if err := s.Scan(&run.ID, &kind, &run.Env, &run.Class, &run.Name, &status, &run.Error,
		&run.Warnings, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Kind = Kind(kind)
	run.Status = Status(status)

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("run %s: bad start time %q", run.ID, started)
	}
	if finished != "" {
		if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s: bad finish time %q", run.ID, finished)
		}
	}
	return &run, nil
}
