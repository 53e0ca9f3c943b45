package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"automove/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConfigStore and domain.RelocationLog on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	scope  string
	logger *slog.Logger
}

func NewSQLiteStore(dbPath, scope string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite store: empty database path")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	if scope == "" {
		scope = DefaultScope
	}
	return &SQLiteStore{db: db, scope: scope, logger: logger}, nil
}

// sqliteDSN enables WAL and a busy timeout through modernc's _pragma parameters.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	v, err := appliedVersion(ctx, s.db)
	if err != nil {
		return 0, unavailable("schema version", err)
	}
	return v, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config_entries WHERE scope = ? AND key = ?`, s.scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get "+key, err)
	}
	return value.String, value.Valid && value.String != "", nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_entries (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.scope, key, nullable(value), time.Now(),
	)
	if err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

func (s *SQLiteStore) EnsureDefaults(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("ensure defaults", err)
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO config_entries (scope, key, value, updated_at) VALUES (?, ?, NULL, ?)`,
			s.scope, k, time.Now(),
		); err != nil {
			tx.Rollback()
			return unavailable("ensure "+k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("ensure defaults", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM config_entries WHERE scope = ? ORDER BY key`, s.scope,
	)
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("list keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list keys", err)
	}
	return keys, nil
}

func (s *SQLiteStore) LogRelocation(ctx context.Context, rec domain.RelocationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relocation_log (scope, channel_id, from_category, to_category, reason, result, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.scope, rec.ChannelID, rec.From, rec.To, rec.Reason, rec.Result, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return unavailable("log relocation", err)
	}
	return nil
}

func (s *SQLiteStore) RecentRelocations(ctx context.Context, limit int) ([]domain.RelocationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, from_category, to_category, reason, result, error, created_at
		 FROM relocation_log WHERE scope = ?
		 ORDER BY id DESC LIMIT ?`, s.scope, limit,
	)
	if err != nil {
		return nil, unavailable("recent relocations", err)
	}
	defer rows.Close()

	var recs []domain.RelocationRecord
	for rows.Next() {
		var r domain.RelocationRecord
		var from, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.ChannelID, &from, &r.To, &r.Reason, &r.Result, &errText, &r.CreatedAt); err != nil {
			return nil, unavailable("recent relocations", err)
		}
		r.From = from.String
		r.Error = errText.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
