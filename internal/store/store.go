package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/model"

	_ "modernc.org/sqlite"
)

// FileName is the database file name inside the data directory.
const FileName = "inboxhunter.db"

const (
	DefaultListLimit  = 100
	DefaultUsageLimit = 50

	timeLayout = "2006-01-02 15:04:05"
	// session starts keep microseconds, sessions are told apart by them
	microLayout = "2006-01-02 15:04:05.000000"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyRecorded = errors.New("url already recorded")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrEmptyURL        = errors.New("empty url")
)

// Store is the embedded database holding the candidate queue, the
// outcome ledger and the usage ledger.
//
// Every method is a self-contained call on the connection pool, no cursor
// or transaction outlives a call. Methods are safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at dbPath and migrates it
// to the current schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", model.ErrStore, dbPath, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: opening %s: %w", model.ErrStore, dbPath, err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, storeErr("executing sql query failed", err)
	}
	return int(v.Int64), nil
}

func storeErr(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStore, msg, err)
}

func rollback(ctx context.Context, tx *sql.Tx, op string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func limitOr(limit, dflt int) int {
	if limit <= 0 {
		return dflt
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatMicro(t time.Time) string {
	return t.UTC().Format(microLayout)
}

// timestamp scans DATETIME columns, the driver returns either a parsed
// time.Time or the stored text depending on how the row was written.
type timestamp struct {
	t *time.Time
}

var _ sql.Scanner = timestamp{}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
		return nil
	case time.Time:
		*ts.t = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (ts timestamp) parse(s string) error {
	for _, layout := range []string{timeLayout, microLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			*ts.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// boolInt stores booleans the way the worker does, as 0/1.
func boolInt(b bool) driver.Value {
	if b {
		return int64(1)
	}
	return int64(0)
}
