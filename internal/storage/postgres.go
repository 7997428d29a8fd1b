package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agent-trust/registry/internal/address"
)

// Postgres stores records in a single table keyed by derived address
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres creates a new database-backed record store
func NewPostgres(databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection
func (db *Postgres) Close() error {
	db.Pool.Close()
	return nil
}

// Begin opens a database transaction. Serializable isolation keeps racing
// submissions equivalent to some one-at-a-time order, so a losing request
// fails instead of interleaving.
func (db *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{ctx: ctx, tx: tx}, nil
}

// Migrate runs database migrations
func (db *Postgres) Migrate(migrationsPath string) error {
	// Get database URL from pool config
	config := db.Pool.Config().ConnConfig
	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.User, config.Password, config.Host, config.Port, config.Database, "disable")

	// Convert to absolute path
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Check if migrations directory exists
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", absPath)
	}

	// Use file source with file:// URL scheme
	m, err := migrate.New(
		"file://"+absPath,
		databaseURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

type postgresTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *postgresTx) Get(key address.Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(t.ctx,
		"SELECT value FROM records WHERE key = $1", key[:]).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return value, nil
}

func (t *postgresTx) Exists(key address.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		"SELECT EXISTS(SELECT 1 FROM records WHERE key = $1)", key[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) Create(key address.Key, value []byte) error {
	tag, err := t.tx.Exec(t.ctx,
		"INSERT INTO records (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING",
		key[:], value)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *postgresTx) Put(key address.Key, value []byte) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO records (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key[:], value)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (t *postgresTx) Delete(key address.Key) error {
	_, err := t.tx.Exec(t.ctx, "DELETE FROM records WHERE key = $1", key[:])
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback(t.ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
