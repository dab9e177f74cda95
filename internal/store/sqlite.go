package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. All access goes
// through a single connection, so writers are serialized by database/sql.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	content_hash TEXT NOT NULL UNIQUE,
	storage_key  TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	job_type      TEXT NOT NULL DEFAULT 'extraction',
	priority      INTEGER NOT NULL DEFAULT 5 CHECK (priority BETWEEN 1 AND 10),
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	error         TEXT,
	error_history TEXT NOT NULL DEFAULT '',
	not_before    TEXT,
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (priority, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_active_document
	ON jobs (document_id) WHERE status IN ('pending', 'processing');

CREATE TABLE IF NOT EXISTS extractions (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	job_id        TEXT,
	payload       TEXT NOT NULL,
	review_status TEXT NOT NULL DEFAULT 'pending'
	              CHECK (review_status IN ('pending', 'approved', 'rejected')),
	reviewed_by   TEXT,
	reviewed_at   TEXT,
	review_notes  TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	CHECK (
		(review_status = 'pending' AND reviewed_by IS NULL AND reviewed_at IS NULL)
		OR (review_status <> 'pending' AND reviewed_by IS NOT NULL AND reviewed_at IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_extractions_review_status ON extractions (review_status);

CREATE TABLE IF NOT EXISTS therapies (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	manufacturer       TEXT NOT NULL DEFAULT '',
	mechanism          TEXT NOT NULL DEFAULT '',
	price_per_unit_usd REAL,
	sources            TEXT NOT NULL DEFAULT '[]',
	created_at         TEXT NOT NULL,
	last_updated       TEXT NOT NULL,
	UNIQUE (name, manufacturer)
);

CREATE INDEX IF NOT EXISTS idx_therapies_name ON therapies (name);

CREATE TABLE IF NOT EXISTS diseases (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	category     TEXT NOT NULL DEFAULT 'Uncategorized',
	sources      TEXT NOT NULL DEFAULT '[]',
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS therapy_approvals (
	id            TEXT PRIMARY KEY,
	therapy_id    TEXT NOT NULL REFERENCES therapies(id) ON DELETE CASCADE,
	disease_id    TEXT NOT NULL REFERENCES diseases(id),
	region        TEXT NOT NULL DEFAULT '',
	approval_date TEXT NOT NULL DEFAULT '',
	approval_type TEXT NOT NULL DEFAULT '',
	sources       TEXT NOT NULL DEFAULT '[]',
	last_updated  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_therapy_approvals_therapy ON therapy_approvals (therapy_id);

CREATE TABLE IF NOT EXISTS therapy_revenues (
	id                   TEXT PRIMARY KEY,
	therapy_id           TEXT NOT NULL REFERENCES therapies(id) ON DELETE CASCADE,
	period               TEXT NOT NULL,
	region               TEXT NOT NULL,
	revenue_millions_usd REAL NOT NULL,
	sources              TEXT NOT NULL DEFAULT '[]',
	last_updated         TEXT NOT NULL,
	UNIQUE (therapy_id, period, region)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) execApplied(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: %s", op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: %s rows affected", op)
	}
	return n > 0, nil
}

// helpers

// sqliteTimeLayout sorts lexically in time order, which the claim and
// retention queries depend on.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeSources(sources []string) (string, error) {
	b, err := marshalSources(sources)
	return string(b), err
}

func decodeJSON(data string, v any) error {
	return eris.Wrap(json.Unmarshal([]byte(data), v), "sqlite: decode json")
}

type scannable interface {
	Scan(dest ...any) error
}

// sqlRunner is satisfied by both *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
