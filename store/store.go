// Package store provides the key-value persistence used by the scanner, the
// send orchestrator, the relayer and the simulated ledger.
//
// Values live in named buckets. Three backends are available: an in-memory
// map for tests, bbolt for single-process durability and PostgreSQL for
// shared deployments. Structured values are encoded with CBOR.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// Entry is a key-value pair of a bucket.
type Entry struct {
	Key   string
	Value []byte
}

// Op is a single write of a batch. A nil Value deletes the key.
type Op struct {
	Bucket string
	Key    string
	Value  []byte
}

// Store is a bucketed key-value store.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error

	// List returns the entries of a bucket sorted by key.
	List(ctx context.Context, bucket string) ([]Entry, error)

	// Batch applies all ops atomically.
	Batch(ctx context.Context, ops []Op) error

	Close() error
}
