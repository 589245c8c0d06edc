// Package db provides SQLite connection management for Strix case databases.
//
// Connections are opened through a custom driver that registers the REGEXP
// scalar function used by compiled semantic-rule queries. A *sql.DB returned
// by Open is safe for a single evaluator; the REGEXP function and any FTS5
// tables built on it are per-connection state, so multi-worker hosts must
// open one connection per worker.
package db

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/strix-dfir/strix/errors"
)

// DriverName is the registered name of the SQLite driver with the REGEXP
// function installed on every connection.
const DriverName = "sqlite3_strix"

// SQLiteBusyTimeoutMS is the busy handler timeout applied to every connection.
const SQLiteBusyTimeoutMS = 5000

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// pure=true: same arguments always yield the same result,
			// letting SQLite cache calls within a statement
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenMemory opens an in-memory database with the Strix driver. Each call
// returns an independent database; used by tests and the FTS5 support probe.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory database")
	}
	// A single conn keeps temp tables and registered functions visible
	// across statements
	db.SetMaxOpenConns(1)
	return db, nil
}
