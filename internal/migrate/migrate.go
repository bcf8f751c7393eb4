// Package migrate applies the embedded SQL migrations in file name order and
// records each applied file in the migrations table.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var embedded embed.FS

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
  id         serial PRIMARY KEY,
  filename   text NOT NULL UNIQUE,
  applied_at timestamptz DEFAULT now()
)`

type Runner struct {
	DB     *sql.DB
	FS     fs.FS
	Dir    string
	Logger *logrus.Logger
}

func NewRunner(db *sql.DB, l *logrus.Logger) *Runner {
	if l == nil {
		l = logrus.New()
	}
	return &Runner{DB: db, FS: embedded, Dir: "sql", Logger: l}
}

// Files lists the migration files in dir, sorted by name.
func Files(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Run applies every migration not yet recorded and returns the applied file
// names. Each file runs in its own transaction together with its record.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	if _, err := r.DB.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	files, err := Files(r.FS, r.Dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	r.Logger.WithField("files", files).Info("found migrations")

	var applied []string
	for _, name := range files {
		var exists bool
		err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM migrations WHERE filename = $1)`, name).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("check %s: %w", name, err)
		}
		if exists {
			r.Logger.WithField("file", name).Debug("skipping already applied migration")
			continue
		}

		if err := r.apply(ctx, name); err != nil {
			return applied, err
		}
		r.Logger.WithField("file", name).Info("migration applied")
		applied = append(applied, name)
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, name string) error {
	body, err := fs.ReadFile(r.FS, path.Join(r.Dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return tx.Commit()
}
