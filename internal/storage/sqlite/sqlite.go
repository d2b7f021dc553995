// Package sqlite is the embedded repository: the same watch and listing stores as the
// postgres package, on a single SQLite file.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS watches (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	url                TEXT      NOT NULL,
	last_checked       INTEGER   NOT NULL DEFAULT 0,
	notify_channel_id  TEXT,
	notify_integration TEXT,
	webhook            TEXT,
	created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_watches_last_checked ON watches (last_checked);

CREATE TABLE IF NOT EXISTS listings (
	watch_id     INTEGER   NOT NULL REFERENCES watches (id) ON DELETE CASCADE,
	id           INTEGER   NOT NULL,
	title        TEXT      NOT NULL,
	url          TEXT      NOT NULL DEFAULT '',
	price        INTEGER,
	city         TEXT      NOT NULL DEFAULT '',
	date         TEXT      NOT NULL DEFAULT '',
	pinned       BOOLEAN   NOT NULL DEFAULT 0,
	seller_name  TEXT      NOT NULL DEFAULT '',
	seller_url   TEXT      NOT NULL DEFAULT '',
	seller_rates TEXT      NOT NULL DEFAULT '',
	image        TEXT      NOT NULL DEFAULT '',
	active       BOOLEAN   NOT NULL DEFAULT 1,
	prev_prices  TEXT      NOT NULL DEFAULT '[]',
	price_alert  BOOLEAN   NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (watch_id, id)
);

CREATE INDEX IF NOT EXISTS idx_listings_watch_active ON listings (watch_id, active);
`

// Open connects to the database file at path and creates the schema when missing.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}
