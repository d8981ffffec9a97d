package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/okian/iotreat/internal/domain/model"
	"github.com/okian/iotreat/pkg/logger"
)

const (
	defaultSQLitePath  = "iotreat-history.db"
	defaultPostgresDSN = "postgres://localhost/iotreat?sslmode=disable"
)

var sqlOpen = sql.Open

// dialect holds the driver name and the statements that differ between
// engines. Both share the same columns.
type dialect struct {
	name   string
	driver string
	schema []string
	insert string
	recent string
}

var sqliteDialect = dialect{
	name:   DriverSQLite,
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS feeding_attempts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			species TEXT NOT NULL,
			target_grams REAL NOT NULL,
			grams REAL NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at_ms INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS feeding_attempts_species_idx ON feeding_attempts (species)`,
	},
	insert: `INSERT INTO feeding_attempts
		(id, species, target_grams, grams, outcome, reason, error, started_at_ms, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	recent: `SELECT id, species, target_grams, grams, outcome, reason, error, started_at_ms, duration_ns
		FROM feeding_attempts ORDER BY seq DESC LIMIT ?`,
}

var postgresDialect = dialect{
	name:   DriverPostgres,
	driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS feeding_attempts (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			species TEXT NOT NULL,
			target_grams DOUBLE PRECISION NOT NULL,
			grams DOUBLE PRECISION NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at_ms BIGINT NOT NULL,
			duration_ns BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS feeding_attempts_species_idx ON feeding_attempts (species)`,
	},
	insert: `INSERT INTO feeding_attempts
		(id, species, target_grams, grams, outcome, reason, error, started_at_ms, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	recent: `SELECT id, species, target_grams, grams, outcome, reason, error, started_at_ms, duration_ns
		FROM feeding_attempts ORDER BY seq DESC LIMIT $1`,
}

// SQLStore persists attempts to a single table through database/sql.
type SQLStore struct {
	db        *sql.DB
	d         dialect
	log       logger.Logger
	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore opens (or creates) the history database at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	s, err := openSQLStore(ctx, sqliteDialect, path, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" on a single database.
	s.db.SetMaxOpenConns(1)
	return s, nil
}

// NewPostgresStore connects to dsn and ensures the history table exists.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	return openSQLStore(ctx, postgresDialect, dsn, buildOptions(opts))
}

func openSQLStore(ctx context.Context, d dialect, dsn string, o options) (*SQLStore, error) {
	db, err := sqlOpen(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s schema: %w", d.name, err)
		}
	}
	o.log.Info(ctx, "history store ready", logger.String("driver", d.name))
	return &SQLStore{db: db, d: d, log: o.log}, nil
}

// Append inserts a.
func (s *SQLStore) Append(ctx context.Context, a model.Attempt) error {
	_, err := s.db.ExecContext(ctx, s.d.insert,
		a.ID, a.Species, a.TargetGrams, a.Grams, a.Outcome, a.Reason, a.Error,
		a.StartedAt.UnixMilli(), int64(a.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) (_ []model.Attempt, retErr error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, s.d.recent, limit)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	out := make([]model.Attempt, 0, limit)
	for rows.Next() {
		var (
			a         model.Attempt
			startedMs int64
			durNs     int64
		)
		if err := rows.Scan(&a.ID, &a.Species, &a.TargetGrams, &a.Grams, &a.Outcome,
			&a.Reason, &a.Error, &startedMs, &durNs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = time.UnixMilli(startedMs).UTC()
		a.Duration = time.Duration(durNs)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored attempts.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeding_attempts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
