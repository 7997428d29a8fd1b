package storage

import (
	"context"
	"sync"

	"github.com/agent-trust/registry/internal/address"
)

// Memory is an in-process backend used in tests and for embedded runs. A
// transaction holds the store lock for its whole lifetime, which matches the
// host model of one serialized request at a time.
type Memory struct {
	mu      sync.Mutex
	records map[address.Key][]byte
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{records: make(map[address.Key][]byte)}
}

// Begin opens a transaction, blocking until any open transaction finishes
func (m *Memory) Begin(_ context.Context) (Tx, error) {
	m.mu.Lock()
	return &memoryTx{
		store:   m,
		staged:  make(map[address.Key][]byte),
		deleted: make(map[address.Key]bool),
	}, nil
}

// Close is a no-op for the in-memory backend
func (m *Memory) Close() error {
	return nil
}

// Len reports the number of committed records. It takes the store lock, so
// it must not be called while a transaction is open.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memoryTx struct {
	store   *Memory
	staged  map[address.Key][]byte
	deleted map[address.Key]bool
	done    bool
}

func (tx *memoryTx) Get(key address.Key) ([]byte, error) {
	if tx.deleted[key] {
		return nil, ErrNotFound
	}
	if v, ok := tx.staged[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	v, ok := tx.store.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (tx *memoryTx) Exists(key address.Key) (bool, error) {
	if tx.deleted[key] {
		return false, nil
	}
	if _, ok := tx.staged[key]; ok {
		return true, nil
	}
	_, ok := tx.store.records[key]
	return ok, nil
}

func (tx *memoryTx) Create(key address.Key, value []byte) error {
	exists, _ := tx.Exists(key)
	if exists {
		return ErrAlreadyExists
	}
	return tx.Put(key, value)
}

func (tx *memoryTx) Put(key address.Key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	tx.staged[key] = v
	delete(tx.deleted, key)
	return nil
}

func (tx *memoryTx) Delete(key address.Key) error {
	delete(tx.staged, key)
	tx.deleted[key] = true
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return nil
	}
	for key := range tx.deleted {
		delete(tx.store.records, key)
	}
	for key, value := range tx.staged {
		tx.store.records[key] = value
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.staged = nil
	tx.deleted = nil
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}
