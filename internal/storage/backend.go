package storage

import (
	"context"
	"errors"

	"github.com/agent-trust/registry/internal/address"
)

// Sentinel errors shared by every backend
var (
	// ErrNotFound is returned by Get when no record exists under the key
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by Create when the key is taken. A second
	// racing attempt to create the same key fails with this deterministically
	// instead of overwriting.
	ErrAlreadyExists = errors.New("record already exists")
)

// Backend is a deterministic record store keyed by derived addresses. Every
// mutation happens inside a Tx; the backend's commit-or-abort semantics are
// what make each ledger operation all-or-nothing.
type Backend interface {
	// Begin opens a transaction. The registry serializes requests, so at
	// most one writing transaction is open at a time.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the backend's resources
	Close() error
}

// Tx is one atomic unit of work. Reads observe the transaction's own staged
// writes. Commit applies everything or nothing; Rollback discards all staged
// writes and is a no-op after Commit, so it is safe to defer.
type Tx interface {
	// Get returns the record stored under key, or ErrNotFound
	Get(key address.Key) ([]byte, error)

	// Exists reports whether a record is stored under key
	Exists(key address.Key) (bool, error)

	// Create stores a new record, failing with ErrAlreadyExists if the key
	// is already taken
	Create(key address.Key, value []byte) error

	// Put stores a record unconditionally
	Put(key address.Key, value []byte) error

	// Delete removes the record under key if present
	Delete(key address.Key) error

	Commit() error
	Rollback() error
}
