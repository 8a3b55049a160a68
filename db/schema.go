// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for deals and stage history
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS deals (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	amount REAL NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'USD',
	stage TEXT NOT NULL DEFAULT 'qualification',
	company TEXT,
	contact TEXT,
	contact_id TEXT,
	due_date DATETIME,
	probability INTEGER NOT NULL DEFAULT 10,
	days_in_stage INTEGER NOT NULL DEFAULT 0,
	priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high')),
	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_user_id ON deals(user_id);
CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);

CREATE TABLE IF NOT EXISTS deal_stage_history (
	id TEXT PRIMARY KEY,
	deal_id TEXT NOT NULL,
	from_stage TEXT,
	to_stage TEXT NOT NULL,
	changed_at DATETIME NOT NULL,
	FOREIGN KEY (deal_id) REFERENCES deals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_deal_stage_history_deal ON deal_stage_history(deal_id, changed_at);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
