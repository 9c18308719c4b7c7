package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"play-rewards/internal/calendar"
)

var (
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrAlreadyCompletedToday    = errors.New("already completed today")
	ErrAlreadyCompletedThisWeek = errors.New("already completed this week")
	ErrNotEligible              = errors.New("not eligible for weekly bonus")
	ErrAlreadyConsumed          = errors.New("weekly bonus already consumed")
	ErrScratchCardNotFound      = errors.New("scratch card not found")
	ErrTransient                = errors.New("transient storage failure")
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

type Store struct {
	db     *sql.DB
	dbType string // "postgres" or "sqlite"
	now    func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the store. An empty dsn or one prefixed with "sqlite:" selects the
// embedded SQLite database; anything else is handed to the pgx driver.
func New(ctx context.Context, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	var dbType string

	if dsn == "" || strings.HasPrefix(dsn, "sqlite:") {
		dbType = dialectSQLite
		sqlitePath := "rewards.db"
		if strings.HasPrefix(dsn, "sqlite:") {
			sqlitePath = strings.TrimPrefix(dsn, "sqlite:")
		}
		db, err = sql.Open("sqlite", sqliteDSN(sqlitePath))
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
	} else {
		dbType = dialectPostgres
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	store := &Store{db: db, dbType: dbType, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// sqliteDSN makes every transaction BEGIN IMMEDIATE so the writer lock is taken
// up front, which is the SQLite counterpart of SELECT ... FOR UPDATE.
func sqliteDSN(path string) string {
	params := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect reports "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dbType
}

func (s *Store) migrate(ctx context.Context) error {
	var schema string
	if s.dbType == dialectSQLite {
		schema = sqliteSchema
	} else {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dbType == dialectSQLite {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// forUpdate returns the row-lock suffix. SQLite relies on the immediate
// transaction lock instead.
func (s *Store) forUpdate() string {
	if s.dbType == dialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// classify maps lock waits, deadlocks and serialization failures to
// ErrTransient. Other errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}

// dateValue scans DATE columns from either driver into YYYY-MM-DD.
type dateValue string

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = dateValue(v.Format(calendar.DateLayout))
	case string:
		*d = dateValue(trimDate(v))
	case []byte:
		*d = dateValue(trimDate(string(v)))
	default:
		return fmt.Errorf("unsupported date value %T", src)
	}
	return nil
}

func (d dateValue) ptr() *string {
	if d == "" {
		return nil
	}
	v := string(d)
	return &v
}

func trimDate(v string) string {
	if len(v) > len(calendar.DateLayout) {
		return v[:len(calendar.DateLayout)]
	}
	return v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timeValue scans timestamps that SQLite may hand back as text.
type timeValue time.Time

func (t *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timeValue(time.Time{})
		return nil
	case time.Time:
		*t = timeValue(v)
		return nil
	case []byte:
		return t.Scan(string(v))
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				*t = timeValue(parsed)
				return nil
			}
		}
		return fmt.Errorf("unparseable timestamp %q", v)
	default:
		return fmt.Errorf("unsupported timestamp value %T", src)
	}
}

func (t timeValue) time() time.Time {
	return time.Time(t)
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	val := n.Int64
	return &val
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL DEFAULT '',
    session_token TEXT UNIQUE,
    status TEXT NOT NULL DEFAULT 'online',
    wallet_balance NUMERIC NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_participations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    event_type TEXT NOT NULL,
    event_key TEXT NOT NULL DEFAULT '',
    event_date DATE NOT NULL,
    week_start_date DATE NOT NULL,
    day_number INTEGER NOT NULL,
    amount NUMERIC NOT NULL DEFAULT 0,
    contest_id INTEGER,
    contest_type TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE (user_id, event_type, event_key, event_date)
);
CREATE INDEX IF NOT EXISTS idx_participations_week ON reward_participations(user_id, event_type, week_start_date);

CREATE TABLE IF NOT EXISTS weekly_bonus_eligibility (
    user_id INTEGER NOT NULL REFERENCES users(id),
    week_start_date DATE NOT NULL,
    matches_played INTEGER NOT NULL DEFAULT 0,
    is_eligible INTEGER NOT NULL DEFAULT 0,
    has_spun INTEGER NOT NULL DEFAULT 0,
    spin_date DATE,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, week_start_date)
);

CREATE TABLE IF NOT EXISTS reward_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    event_type TEXT NOT NULL,
    amount NUMERIC NOT NULL DEFAULT 0,
    day_number INTEGER NOT NULL,
    week_start_date DATE NOT NULL,
    event_date DATE NOT NULL,
    transaction_type TEXT NOT NULL DEFAULT 'credit',
    description TEXT NOT NULL DEFAULT '',
    reward_type TEXT NOT NULL DEFAULT '',
    reward_value TEXT NOT NULL DEFAULT '',
    matches_played INTEGER NOT NULL DEFAULT 0,
    reference TEXT UNIQUE NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON reward_transactions(user_id, event_type, created_at DESC);

CREATE TABLE IF NOT EXISTS scratch_cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contest_id INTEGER,
    contest_type TEXT NOT NULL,
    min_amount NUMERIC NOT NULL,
    max_amount NUMERIC NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scratch_cards_lookup ON scratch_cards(contest_type, contest_id, is_active);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    session_token TEXT UNIQUE,
    status TEXT NOT NULL DEFAULT 'online',
    wallet_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reward_participations (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    event_type TEXT NOT NULL,
    event_key TEXT NOT NULL DEFAULT '',
    event_date DATE NOT NULL,
    week_start_date DATE NOT NULL,
    day_number SMALLINT NOT NULL,
    amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    contest_id BIGINT,
    contest_type TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, event_type, event_key, event_date)
);
CREATE INDEX IF NOT EXISTS idx_participations_week ON reward_participations(user_id, event_type, week_start_date);

CREATE TABLE IF NOT EXISTS weekly_bonus_eligibility (
    user_id BIGINT NOT NULL REFERENCES users(id),
    week_start_date DATE NOT NULL,
    matches_played INTEGER NOT NULL DEFAULT 0,
    is_eligible BOOLEAN NOT NULL DEFAULT FALSE,
    has_spun BOOLEAN NOT NULL DEFAULT FALSE,
    spin_date DATE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, week_start_date)
);

CREATE TABLE IF NOT EXISTS reward_transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    event_type TEXT NOT NULL,
    amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    day_number SMALLINT NOT NULL,
    week_start_date DATE NOT NULL,
    event_date DATE NOT NULL,
    transaction_type TEXT NOT NULL DEFAULT 'credit',
    description TEXT NOT NULL DEFAULT '',
    reward_type TEXT NOT NULL DEFAULT '',
    reward_value TEXT NOT NULL DEFAULT '',
    matches_played INTEGER NOT NULL DEFAULT 0,
    reference TEXT UNIQUE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON reward_transactions(user_id, event_type, created_at DESC);

CREATE TABLE IF NOT EXISTS scratch_cards (
    id BIGSERIAL PRIMARY KEY,
    contest_id BIGINT,
    contest_type TEXT NOT NULL,
    min_amount NUMERIC(14,2) NOT NULL,
    max_amount NUMERIC(14,2) NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_scratch_cards_lookup ON scratch_cards(contest_type, contest_id, is_active);
`
