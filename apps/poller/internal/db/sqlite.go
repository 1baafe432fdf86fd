package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cormacmadden/life-os/internal/schema"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection with write serialization
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex // serializes writers; SQLite allows one at a time
}

// Connect opens a SQLite database with WAL mode and foreign keys enabled
func Connect(dbPath string) (*DB, error) {
	// WAL lets the API read while the poller writes; busy_timeout makes a
	// reader wait on a checkpoint instead of failing with SQLITE_BUSY
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	// SQLite only supports one writer at a time. We use a combination of:
	// 1. MaxOpenConns(1) so every statement goes through one connection
	// 2. writeMu so the polling loop, the static refresh and cleanup never
	//    start overlapping transactions
	// Without both, a cleanup tick landing mid-poll fails with
	// "cannot start a transaction within a transaction".
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Performance tuning PRAGMAs. Failures only cost speed, so they are logged
	// rather than returned.
	pragmas := []string{
		"PRAGMA synchronous = NORMAL", // Faster writes, still safe with WAL
		"PRAGMA cache_size = 10000",   // ~40MB cache for the stop/route joins
		"PRAGMA temp_store = MEMORY",  // Use RAM for temp tables
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.Printf("Warning: failed to set %s: %v", pragma, err)
		}
	}

	log.Printf("Connected to SQLite database: %s", dbPath)
	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by writers.
// Callers that modify data must hold LockWrite.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// LockWrite acquires the write mutex. Must be paired with UnlockWrite.
// Use this around any transaction so concurrent writers take turns instead of
// hitting "cannot start a transaction within a transaction".
func (db *DB) LockWrite() {
	db.writeMu.Lock()
}

// UnlockWrite releases the write mutex.
func (db *DB) UnlockWrite() {
	db.writeMu.Unlock()
}

// EnsureSchema creates tables if they don't exist.
// The DDL is embedded in internal/schema, the single source of truth shared
// with the API's read-side queries, so both binaries agree on table shapes.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.LockWrite()
	defer db.UnlockWrite()

	if _, err := db.conn.ExecContext(ctx, schema.SQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("Database schema ensured (from embedded schema.sql)")
	return nil
}
