// Package sqlite implements the SQLite storage backend for the response
// cache: one table per repository, keyed by the ordered cache key columns,
// with an index on the expiry column for cheap expiry-filtered reads.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/cache"
	"github.com/soundmirror/soundmirror/pkg/logging"
)

// Type identifies this backend kind for configuration purposes.
const Type = "sqlite"

const (
	nameColumn   = "name"
	cachedColumn = "cached_at"
	expiryColumn = "expires_at"
	dataColumn   = "response"
)

// tempFileName is the default file name for temp-file backed caches.
const tempFileName = "soundmirror_db.tmp"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is an SQLite-backed cache.Backend. One *sql.DB handle is shared
// by every repository opened against the same store; closing the store
// invalidates all of them.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
	logger zerolog.Logger
}

// Connect opens (creating if needed) an SQLite database at the given
// path. A ".sqlite" suffix is appended when missing and parent
// directories are created.
func Connect(path string) (*Store, error) {
	if !strings.HasSuffix(path, ".sqlite") {
		path += ".sqlite"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	return open(path, "file:"+path)
}

// ConnectInMemory opens a shared in-memory SQLite database.
func ConnectInMemory() (*Store, error) {
	return open("__IN_MEMORY__", "file::memory:?cache=shared")
}

// ConnectTemp opens an SQLite database in the system temp directory. An
// empty name falls back to the program-derived default file name.
func ConnectTemp(name string) (*Store, error) {
	if name == "" {
		name = tempFileName
	}
	path := filepath.Join(os.TempDir(), name)
	if !strings.HasSuffix(path, ".sqlite") {
		path += ".sqlite"
	}
	return open(path, "file:"+path)
}

func open(name, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite serializes writes internally; a single connection avoids
	// table-lock contention between repositories sharing this handle and
	// keeps shared in-memory databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sqlite database: %w", err)
	}

	return &Store{
		db:     db,
		path:   name,
		logger: logging.NewLogger("sqlite-cache").With().Str("path", name).Logger(),
	}, nil
}

// Type implements cache.Backend.
func (s *Store) Type() string { return Type }

// Path returns the database location this store was opened against.
func (s *Store) Path() string { return s.path }

// CreateRepository idempotently creates the table and expiry index for
// the given settings.
func (s *Store) CreateRepository(ctx context.Context, settings cache.RequestSettings) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return err
	}

	columns := make([]string, 0, len(settings.Fields())+4)
	for _, field := range settings.Fields() {
		columns = append(columns, fmt.Sprintf("%q %s NOT NULL", field, columnType(field)))
	}
	columns = append(columns,
		fmt.Sprintf("%q TEXT", nameColumn),
		fmt.Sprintf("%q TIMESTAMP NOT NULL", cachedColumn),
		fmt.Sprintf("%q TIMESTAMP NOT NULL", expiryColumn),
		fmt.Sprintf("%q TEXT", dataColumn),
		fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(settings.Fields())),
	)

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %q (%s); CREATE INDEX IF NOT EXISTS %q ON %q (%q);",
		table, strings.Join(columns, ", "),
		"idx_"+table+"_"+expiryColumn, table, expiryColumn,
	)

	s.logger.Debug().Str("table", table).Msg("Ensuring repository table exists")
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Count returns the number of rows, filtered to non-expired rows unless
// includeExpired is set.
func (s *Store) Count(ctx context.Context, settings cache.RequestSettings, includeExpired bool) (int, error) {
	if s.closed.Load() {
		return 0, cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %q", table)
	args := []any{}
	if !includeExpired {
		query += fmt.Sprintf(" WHERE %q > ?", expiryColumn)
		args = append(args, now())
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return count, nil
}

// Contains reports whether a non-expired row exists for the key.
func (s *Store) Contains(ctx context.Context, settings cache.RequestSettings, key cache.Key) (bool, error) {
	if s.closed.Load() {
		return false, cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %q WHERE %q > ? AND %s",
		table, expiryColumn, keyPredicate(settings),
	)
	args := append([]any{now()}, key.Values(settings.Fields())...)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check row in %s: %w", table, err)
	}
	return count > 0, nil
}

// Get returns the stored value for a non-expired row. A missing or
// expired row reads identically as not found.
func (s *Store) Get(ctx context.Context, settings cache.RequestSettings, key cache.Key) (string, bool, error) {
	if s.closed.Load() {
		return "", false, cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return "", false, err
	}

	query := fmt.Sprintf(
		"SELECT %q FROM %q WHERE %q IS NOT NULL AND %q > ? AND %s",
		dataColumn, table, dataColumn, expiryColumn, keyPredicate(settings),
	)
	args := append([]any{now()}, key.Values(settings.Fields())...)

	var value string
	switch err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("read row from %s: %w", table, err)
	}
}

// Set writes a row with INSERT OR REPLACE semantics: an existing row for
// the key is fully replaced, resetting both data and expiry.
func (s *Store) Set(ctx context.Context, settings cache.RequestSettings, key cache.Key, name, value string, expiresAt time.Time) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return err
	}

	fields := settings.Fields()
	columns := quoteAll(fields) + ", " + quoteAll([]string{nameColumn, cachedColumn, expiryColumn, dataColumn})
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)+4), ", ")

	query := fmt.Sprintf("INSERT OR REPLACE INTO %q (%s) VALUES (%s)", table, columns, placeholders)
	args := append(key.Values(fields), name, now(), format(expiresAt), value)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write row to %s: %w", table, err)
	}
	return nil
}

// Delete removes the row for the key. A zero row count means not found,
// not an error.
func (s *Store) Delete(ctx context.Context, settings cache.RequestSettings, key cache.Key) (bool, error) {
	if s.closed.Load() {
		return false, cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("DELETE FROM %q WHERE %s", table, keyPredicate(settings))
	result, err := s.db.ExecContext(ctx, query, key.Values(settings.Fields())...)
	if err != nil {
		return false, fmt.Errorf("delete row from %s: %w", table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete row from %s: %w", table, err)
	}
	return affected > 0, nil
}

// Clear removes all rows, or only expired ones, returning the number
// removed.
func (s *Store) Clear(ctx context.Context, settings cache.RequestSettings, expiredOnly bool) (int, error) {
	if s.closed.Load() {
		return 0, cache.ErrClosed
	}

	table, err := tableName(settings)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %q", table)
	args := []any{}
	if expiredOnly {
		query += fmt.Sprintf(" WHERE %q <= ?", expiryColumn)
		args = append(args, now())
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear rows from %s: %w", table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear rows from %s: %w", table, err)
	}
	return int(affected), nil
}

// Commit is a no-op: the store runs in autocommit mode.
func (s *Store) Commit(ctx context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	return nil
}

// Close releases the database handle. Repositories sharing it fail with
// ErrClosed on their next use.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}

// columnType maps a key field to its column type: short strings for the
// method, free text for resource identifiers, integers for pagination
// fields.
func columnType(field string) string {
	switch field {
	case cache.FieldMethod:
		return "VARCHAR(10)"
	case cache.FieldOffset, cache.FieldSize:
		return "INT2"
	default:
		return "VARCHAR(50)"
	}
}

func tableName(settings cache.RequestSettings) (string, error) {
	name := settings.Name()
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid repository name %q", name)
	}
	return name, nil
}

func keyPredicate(settings cache.RequestSettings) string {
	fields := settings.Fields()
	predicates := make([]string, len(fields))
	for i, field := range fields {
		predicates[i] = fmt.Sprintf("%q = ?", field)
	}
	return strings.Join(predicates, " AND ")
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	return strings.Join(quoted, ", ")
}

func now() string {
	return format(time.Now())
}

// format renders timestamps in a fixed-width UTC form so lexicographic
// comparison in SQL matches chronological order.
func format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
