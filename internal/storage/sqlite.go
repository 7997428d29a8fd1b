package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agent-trust/registry/internal/address"
)

// SQLite stores records in an embedded database file. Used for single-node
// deployments that do not want to run postgres.
type SQLite struct {
	Conn *sql.DB
}

// NewSQLite opens (creating if needed) an embedded record store
func NewSQLite(dbPath string) (*SQLite, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS records (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	return &SQLite{Conn: conn}, nil
}

// Close closes the database connection
func (db *SQLite) Close() error {
	return db.Conn.Close()
}

// Begin opens a database transaction
func (db *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{ctx: ctx, tx: tx}, nil
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) Get(key address.Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT value FROM records WHERE key = ?", key[:]).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return value, nil
}

func (t *sqliteTx) Exists(key address.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT EXISTS(SELECT 1 FROM records WHERE key = ?)", key[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

func (t *sqliteTx) Create(key address.Key, value []byte) error {
	res, err := t.tx.ExecContext(t.ctx,
		"INSERT OR IGNORE INTO records (key, value) VALUES (?, ?)",
		key[:], value)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *sqliteTx) Put(key address.Key, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO records (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key[:], value)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (t *sqliteTx) Delete(key address.Key) error {
	_, err := t.tx.ExecContext(t.ctx, "DELETE FROM records WHERE key = ?", key[:])
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
