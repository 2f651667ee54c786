package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Single connection avoids SQLITE_BUSY between the request workers and the walk recorder.
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// sqliteTime matches SQLite's CURRENT_TIMESTAMP layout (UTC).
const sqliteTime = "2006-01-02 15:04:05"

// PruneCache removes cache entries older than the specified duration and returns how many went.
func (d *DB) PruneCache(olderThan time.Duration) (int64, error) {
	deadline := time.Now().Add(-olderThan).UTC().Format(sqliteTime)
	res, err := d.Exec("DELETE FROM cache WHERE created_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneWalks keeps the newest keep walk records.
func (d *DB) PruneWalks(keep int) (int64, error) {
	res, err := d.Exec(`DELETE FROM walks WHERE token NOT IN (
		SELECT token FROM walks ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS walks (
			token TEXT PRIMARY KEY,
			origin TEXT,
			destination TEXT,
			style TEXT,
			voice TEXT,
			distance_m REAL,
			duration_s INTEGER,
			total_segments INTEGER,
			plan TEXT,
			started_at DATETIME,
			ended_at DATETIME,
			segments_realized INTEGER DEFAULT 0,
			outcome TEXT
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Databases created before the column existed.
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('walks') WHERE name='segments_realized'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE walks ADD COLUMN segments_realized INTEGER DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add segments_realized column: %w", err)
		}
	}

	return nil
}
