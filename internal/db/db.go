package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed state between read and write.
	ErrConflict = errors.New("concurrent modification")
)

// querier is satisfied by both *DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps sql.DB for the booking backend.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN so availability re-checks inside
	// CreateBooking cannot interleave.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS shops (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'Asia/Seoul',
			owner_chat_id INTEGER NOT NULL DEFAULT 0,
			admin_token_hash TEXT,
			deposit_amount INTEGER NOT NULL DEFAULT 0,
			deposit_deadline_hours INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Weekly hours, one row per weekday (0=Sunday).
		`CREATE TABLE IF NOT EXISTS shop_hours (
			shop_id INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			open_time TEXT NOT NULL DEFAULT '',
			close_time TEXT NOT NULL DEFAULT '',
			is_closed BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (shop_id, day_of_week),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		// Dates are TEXT (YYYY-MM-DD) so the driver does not turn them into timestamps.
		`CREATE TABLE IF NOT EXISTS shop_closed_dates (
			shop_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'manual',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (shop_id, date),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		// One row per (date, time): a slot is either blocked or force-opened, never both.
		`CREATE TABLE IF NOT EXISTS shop_slot_overrides (
			shop_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('blocked', 'force_open')),
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (shop_id, date, time),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			price INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (shop_id, name),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (shop_id, phone),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		// Every distinct name a phone number has booked under.
		`CREATE TABLE IF NOT EXISTS customer_names (
			customer_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (customer_id, name),
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		)`,

		`CREATE TABLE IF NOT EXISTS customer_blocklist (
			shop_id INTEGER NOT NULL,
			phone TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (shop_id, phone),
			FOREIGN KEY (shop_id) REFERENCES shops(id)
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT UNIQUE NOT NULL,
			shop_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			customer_id INTEGER,
			customer_name TEXT NOT NULL,
			customer_phone TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			price INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			deposit_status TEXT NOT NULL DEFAULT 'none',
			deposit_amount INTEGER NOT NULL DEFAULT 0,
			deposit_deadline DATETIME,
			comment TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (shop_id) REFERENCES shops(id),
			FOREIGN KEY (service_id) REFERENCES services(id),
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_shops_active ON shops(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_shops_token ON shops(admin_token_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_services_shop ON services(shop_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_shop_date ON bookings(shop_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_deposit ON bookings(deposit_status, deposit_deadline)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}
