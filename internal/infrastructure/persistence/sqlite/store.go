// Package sqlite provides a SQLite-backed snapshot store for single-node
// deployments and the CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store persists progress snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Ensure Store implements progress.SnapshotStore.
var _ progress.SnapshotStore = (*Store)(nil)

// Open opens a SQLite snapshot store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Load returns the stored aggregate for userID.
func (s *Store) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT snapshot FROM progress_snapshots WHERE user_id = ?`,
		userID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, classify("Load", err)
	}

	return progress.UnmarshalSnapshot(data)
}

// Save inserts or updates the snapshot when the stored version still
// equals expectedVersion.
func (s *Store) Save(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.Version = expectedVersion + 1
	data, err := progress.MarshalSnapshot(p)
	if err != nil {
		p.Version = expectedVersion
		return err
	}
	updatedAt := time.Now().UTC().UnixMilli()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.sqlDB.ExecContext(ctx,
			`INSERT INTO progress_snapshots (user_id, version, snapshot, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			p.UserID, p.Version, data, updatedAt,
		)
	} else {
		res, err = s.sqlDB.ExecContext(ctx,
			`UPDATE progress_snapshots
			 SET version = ?, snapshot = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			p.Version, data, updatedAt, p.UserID, expectedVersion,
		)
	}
	if err != nil {
		p.Version = expectedVersion
		return classify("Save", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		p.Version = expectedVersion
		return classify("Save", err)
	}
	if n == 0 {
		p.Version = expectedVersion
		return progress.VersionConflict(p.UserID, s.storedVersion(ctx, p.UserID), expectedVersion)
	}
	return nil
}

func (s *Store) storedVersion(ctx context.Context, userID string) int64 {
	var v int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT version FROM progress_snapshots WHERE user_id = ?`, userID).Scan(&v); err != nil {
		return -1
	}
	return v
}

// classify maps driver errors onto domain error kinds. A locked database
// is transient and may be retried.
func classify(op string, err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return shared.WrapError("sqlite", op, shared.ErrServiceUnavailable, "database is busy", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("sqlite", op, shared.ErrTimeout, "query timed out", err)
	}
	return shared.WrapError("sqlite", op, shared.ErrStorage, "query failed", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// applyMigrations executes each embedded .sql file at most once, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

// upSection returns the SQL in the "-- +migrate Up" section.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	start += len(up)
	if end := strings.Index(content, down); end > start {
		return content[start:end]
	}
	return content[start:]
}
