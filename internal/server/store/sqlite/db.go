package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the engage schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS topics (
			id VARCHAR(36) PRIMARY KEY,
			event_id VARCHAR(36) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			title VARCHAR(200) NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS feed_items (
			id VARCHAR(36) PRIMARY KEY,
			topic_id VARCHAR(36) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			author_id VARCHAR(36) NOT NULL,
			author_name VARCHAR(50) NOT NULL,
			created_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			payload TEXT NOT NULL,
			client_ref VARCHAR(64) DEFAULT '',
			FOREIGN KEY (topic_id) REFERENCES topics(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_topics_event ON topics(event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_topic ON feed_items(topic_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_topic_created ON feed_items(topic_id, created_at, id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
