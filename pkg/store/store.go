// Package store provides the relay's transcript archive: an append-only log
// of joins, leaves, evictions and chat lines, backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

// ErrInvalidEntry is returned for entries with an unknown kind or no nickname.
var ErrInvalidEntry = errors.New("store: invalid entry")

// Store is the SQLite-backed Transcript.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode so exports can read while the relay writes
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT    NOT NULL DEFAULT '',
		nickname   TEXT    NOT NULL CHECK(length(nickname) > 0),
		kind       TEXT    NOT NULL CHECK(kind IN ('join', 'leave', 'evict', 'chat')),
		body       TEXT    NOT NULL DEFAULT '',
		endpoint   TEXT    NOT NULL DEFAULT '',
		sequence   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_entries_nickname ON entries(nickname)",
				"CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

func (s *Store) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func validateEntry(e *model.Entry) error {
	if e.Nickname == "" {
		return fmt.Errorf("%w: empty nickname", ErrInvalidEntry)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidEntry, e.Kind)
	}
	return nil
}

// Record appends an entry. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e *model.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (session_id, nickname, kind, body, endpoint, sequence, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.SessionID, e.Nickname, string(e.Kind), e.Body, e.Endpoint, int64(e.Sequence), formatDBTime(e.CreatedAt)) //nolint:gosec // sequence stays far below 1<<63
	if err != nil {
		return fmt.Errorf("store: record entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// List returns entries oldest first.
func (s *Store) List(ctx context.Context, filter model.EntryFilter) ([]model.Entry, error) {
	query := `
		SELECT id, session_id, nickname, kind, body, endpoint, sequence, created_at
		FROM entries
		WHERE (? IS NULL OR nickname = ?)
		AND (? IS NULL OR kind = ?)
		ORDER BY id ASC
		LIMIT COALESCE(?, ?)
		OFFSET COALESCE(?, 0)
	`

	var kind *string
	if filter.Kind != nil {
		k := string(*filter.Kind)
		kind = &k
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.Nickname, filter.Nickname,
		kind, kind,
		filter.Limit, DefaultListLimit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var kindStr, createdAt string
		var seq int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Nickname, &kindStr, &e.Body, &e.Endpoint, &seq, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.Kind = model.EntryKind(kindStr)
		e.Sequence = uint64(seq) //nolint:gosec // written from a uint64 that fits
		e.CreatedAt = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
