// Package storage provides sqlite-backed persistence for the Application
// Core: the pending and active transaction tables, the address book, and
// the known-message dedup set.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the daemon's sqlite-backed persistence layer.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the sqlite database under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "xbridged.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	schema := `
	-- Orders: locally originated or relayed TransactionDescr entries, kept
	-- from creation through hub matching (hub_id) to their final state.
	CREATE TABLE IF NOT EXISTS pending_orders (
		local_id TEXT PRIMARY KEY,
		hub_id TEXT,
		hub_node_id TEXT,
		state TEXT NOT NULL DEFAULT 'new',

		from_address TEXT NOT NULL,
		from_currency TEXT NOT NULL,
		from_amount INTEGER NOT NULL,
		to_address TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		to_amount INTEGER NOT NULL,

		raw_pay_tx TEXT,
		raw_revert_tx TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_orders_hub ON pending_orders(hub_id);
	CREATE INDEX IF NOT EXISTS idx_pending_orders_created ON pending_orders(created_at);

	-- Active hub-side Transaction records, keyed by hub-assigned id.
	CREATE TABLE IF NOT EXISTS active_transactions (
		hub_id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'new',

		first_order_id TEXT NOT NULL,
		first_source_addr TEXT NOT NULL,
		first_dest_addr TEXT NOT NULL,
		first_currency TEXT NOT NULL,
		first_amount INTEGER NOT NULL,
		first_raw_pay_tx TEXT,
		first_raw_revert_tx TEXT,
		first_tx_hash TEXT,
		first_ack INTEGER NOT NULL DEFAULT 0,

		second_order_id TEXT NOT NULL,
		second_source_addr TEXT NOT NULL,
		second_dest_addr TEXT NOT NULL,
		second_currency TEXT NOT NULL,
		second_amount INTEGER NOT NULL,
		second_raw_pay_tx TEXT,
		second_raw_revert_tx TEXT,
		second_tx_hash TEXT,
		second_ack INTEGER NOT NULL DEFAULT 0,

		first_confirmed INTEGER NOT NULL DEFAULT 0,
		second_confirmed INTEGER NOT NULL DEFAULT 0,

		confirmation_count INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_active_transactions_state ON active_transactions(state);
	CREATE INDEX IF NOT EXISTS idx_active_transactions_created ON active_transactions(created_at);

	-- Hub-side pending pool: provisional, not-yet-joined orders keyed by
	-- their own fingerprint and looked up by an arriving counterpart's
	-- mirror fingerprint (spec.md §4.4 "tryJoin"). Distinct from
	-- pending_orders, which is the client-side TransactionDescr table.
	CREATE TABLE IF NOT EXISTS hub_pending_pool (
		order_id TEXT PRIMARY KEY,
		source_node TEXT NOT NULL,
		fingerprint TEXT NOT NULL,

		source_addr TEXT NOT NULL,
		source_cur TEXT NOT NULL,
		source_amt INTEGER NOT NULL,
		dest_addr TEXT NOT NULL,
		dest_cur TEXT NOT NULL,
		dest_amt INTEGER NOT NULL,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hub_pending_pool_fingerprint ON hub_pending_pool(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_hub_pending_pool_created ON hub_pending_pool(created_at);

	-- Address book: wallet addresses announced by this node or peers
	-- (spec.md §4.6).
	CREATE TABLE IF NOT EXISTS address_book (
		address TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		name TEXT NOT NULL,
		is_local INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_address_book_currency ON address_book(currency);

	-- Known-message dedup set, mirrored from the in-memory LRU so that a
	-- restart does not immediately re-process recently seen broadcasts
	-- (spec.md §9 open question).
	CREATE TABLE IF NOT EXISTS known_messages (
		message_hash TEXT PRIMARY KEY,
		seen_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_known_messages_seen ON known_messages(seen_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
