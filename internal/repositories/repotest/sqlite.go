// Package repotest opens in-memory SQLite databases with the repository schema for tests
package repotest

import (
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/database"
)

// schema mirrors db/pg in SQLite types
const schema = `
CREATE TABLE records (
	id             TEXT PRIMARY KEY,
	external_ref   TEXT NOT NULL,
	source         TEXT NOT NULL,
	title          TEXT NOT NULL,
	secondary_text TEXT,
	category_codes TEXT NOT NULL DEFAULT '[]',
	country        TEXT NOT NULL DEFAULT '',
	numeric_value  REAL,
	currency       TEXT,
	contact_email  TEXT,
	published_at   TIMESTAMP,
	deadline_at    TIMESTAMP,
	seen_at        TIMESTAMP NOT NULL,
	fingerprint    TEXT NOT NULL,
	canonical_of   TEXT REFERENCES records (id),
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source, external_ref)
);

CREATE TABLE fingerprint_index (
	fingerprint TEXT PRIMARY KEY,
	record_id   TEXT NOT NULL REFERENCES records (id),
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE duplicate_groups (
	id           TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL REFERENCES records (id),
	member_ids   TEXT NOT NULL,
	merge_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE profiles (
	id            TEXT PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	name          TEXT NOT NULL,
	criteria      TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE alert_deliveries (
	profile_id   TEXT NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
	record_id    TEXT NOT NULL REFERENCES records (id),
	score        REAL NOT NULL,
	delivered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (profile_id, record_id)
);
`

// Logger discards every message
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// NewDB returns a fresh schema in a private in-memory database
func NewDB(t *testing.T) database.DB {
	t.Helper()

	raw, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	_, err = raw.Exec(schema)
	require.NoError(t, err)

	return database.NewDatabaseInstance(raw, Logger())
}
