package database

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Initialize(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT UNIQUE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(team_id, user_id),
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS nudges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL,
		slug TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		frequency TEXT NOT NULL,
		interval INTEGER NOT NULL DEFAULT 1,
		time_of_day TEXT NOT NULL,
		timezone TEXT NOT NULL,
		day_of_week INTEGER,
		monthly_mode TEXT,
		day_of_month INTEGER,
		nth_week INTEGER,
		nth_weekday INTEGER,
		end_type TEXT NOT NULL DEFAULT 'never',
		end_date DATETIME,
		end_after INTEGER,
		last_instance_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS recipients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nudge_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (nudge_id) REFERENCES nudges(id) ON DELETE CASCADE
	);

	-- The UNIQUE(nudge_id, occurrence_date) constraint is the cross-process
	-- idempotency guarantee: overlapping scheduler passes racing to
	-- materialize the same logical occurrence collide here, not in app code.
	CREATE TABLE IF NOT EXISTS nudge_instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nudge_id INTEGER NOT NULL,
		slug TEXT UNIQUE NOT NULL,
		occurrence_date TEXT NOT NULL,
		scheduled_for DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		completed_at DATETIME,
		completed_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(nudge_id, occurrence_date),
		FOREIGN KEY (nudge_id) REFERENCES nudges(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reminder_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id INTEGER NOT NULL,
		recipient_name TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		token TEXT UNIQUE NOT NULL,
		expires_at DATETIME NOT NULL,
		sent BOOLEAN DEFAULT FALSE,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (instance_id) REFERENCES nudge_instances(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, endpoint),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	-- Server-side refresh token store for rotating refresh tokens
	CREATE TABLE IF NOT EXISTS refresh_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		ttl_days INTEGER NOT NULL DEFAULT 7,
		revoked BOOLEAN DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nudges_team_id ON nudges(team_id);
	CREATE INDEX IF NOT EXISTS idx_nudges_status ON nudges(status);
	CREATE INDEX IF NOT EXISTS idx_recipients_nudge_id ON recipients(nudge_id);
	CREATE INDEX IF NOT EXISTS idx_instances_nudge_id ON nudge_instances(nudge_id);
	CREATE INDEX IF NOT EXISTS idx_reminder_events_instance_id ON reminder_events(instance_id);
	CREATE INDEX IF NOT EXISTS idx_reminder_events_token ON reminder_events(token);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);
	`

	_, err := db.Exec(schema)
	return err
}
