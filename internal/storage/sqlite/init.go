package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// go-sqlite3 serialises writers; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		download_id TEXT UNIQUE NOT NULL,
		game_id TEXT NOT NULL,
		game_name TEXT NOT NULL,
		url TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'downloading',
		error TEXT NOT NULL DEFAULT '',
		install_path TEXT NOT NULL DEFAULT '',
		executable TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
