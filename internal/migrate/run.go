// Package migrate applies the embedded SQL migrations in lexical order.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockKey is the pg_advisory_lock id that serialises concurrent migrators.
const lockKey int64 = 0x63686172745f6d67

// Migration is one embedded migration and, once applied, when it ran.
type Migration struct {
	Version   string
	AppliedAt *time.Time
}

// Applied reports whether the migration has been recorded.
func (m Migration) Applied() bool { return m.AppliedAt != nil }

// Run applies pending migrations. It holds a session advisory lock for the duration so worker
// replicas starting together apply each file once. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("release migration connection: %w", closeErr))
		}
	}()

	if _, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// Unlock with a fresh context so a cancelled run still releases the lock.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, unlockErr := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, lockKey); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("release migration lock: %w", unlockErr))
		}
	}()

	if err = ensureTable(ctx, conn); err != nil {
		return err
	}
	migrations, err := status(ctx, conn)
	if err != nil {
		return err
	}

	logger := slog.Default().With("component", "migrations")
	for _, m := range migrations {
		if m.Applied() {
			continue
		}
		logger.InfoContext(ctx, "applying migration", "version", m.Version)
		if err = apply(ctx, conn, m.Version); err != nil {
			return err
		}
	}
	return nil
}

// Status lists every embedded migration with its applied time, if any.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck // read-only connection

	if err := ensureTable(ctx, conn); err != nil {
		return nil, err
	}
	return status(ctx, conn)
}

func ensureTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func status(ctx context.Context, conn *sql.Conn) ([]Migration, error) {
	versions, err := embeddedVersions()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	out := make([]Migration, 0, len(versions))
	for _, v := range versions {
		m := Migration{Version: v}
		if at, ok := applied[v]; ok {
			m.AppliedAt = &at
		}
		out = append(out, m)
	}
	return out, nil
}

func embeddedVersions() ([]string, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	versions := make([]string, 0, len(files))
	for _, f := range files {
		versions = append(versions, strings.TrimSuffix(path.Base(f), ".sql"))
	}
	slices.Sort(versions)
	return versions, nil
}

func apply(ctx context.Context, conn *sql.Conn, version string) (err error) {
	body, err := migrationsFS.ReadFile("migrations/" + version + ".sql")
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback migration %s: %w", version, rbErr))
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}
