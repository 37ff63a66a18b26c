// Package kv defines the knowledge-base storage boundary: an embedded, ordered,
// durable key-value store split into named partitions, plus a store-wide
// monotonic id generator. Backends live in sub-packages (sqlitekv, memkv).
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Backends wrap the underlying cause with one of these so
// callers can classify failures with errors.Is.
var (
	// ErrStoreUnavailable means a partition could not be opened.
	ErrStoreUnavailable = errors.New("kv: store unavailable")

	// ErrWriteFailed means an insert did not complete.
	ErrWriteFailed = errors.New("kv: write failed")

	// ErrFlushFailed means the durability barrier did not complete.
	ErrFlushFailed = errors.New("kv: flush failed")

	// ErrSerialization means a value could not be encoded or decoded.
	ErrSerialization = errors.New("kv: serialization failed")

	// ErrIDGeneration means the id generator could not produce a value.
	ErrIDGeneration = errors.New("kv: id generation failed")
)

// MaxPartitionNameLen bounds partition names.
const MaxPartitionNameLen = 255

// Store is an embedded key-value engine with named partitions.
// Implementations must be safe for concurrent use.
type Store interface {
	// OpenPartition returns the named partition, creating it if needed.
	OpenPartition(ctx context.Context, name string) (Partition, error)

	// GenerateID returns a store-wide, strictly increasing identifier.
	// Values are never reused, including across restarts.
	GenerateID(ctx context.Context) (uint64, error)
}

// Partition is an independent sorted map inside a Store.
type Partition interface {
	// Name returns the partition name.
	Name() string

	// Get returns the value stored under key. ok is false when absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Insert stores value under key, replacing any previous value.
	Insert(ctx context.Context, key, value []byte) error

	// Flush blocks until prior inserts to this partition are durable.
	Flush(ctx context.Context) error

	// Scan calls fn for every entry in ascending key order. Returning false
	// from fn stops the iteration.
	Scan(ctx context.Context, fn func(key, value []byte) bool) error
}

// ValidatePartitionName checks a partition name before it is used.
func ValidatePartitionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty partition name", ErrStoreUnavailable)
	}
	if len(name) > MaxPartitionNameLen {
		return fmt.Errorf("%w: partition name exceeds %d bytes", ErrStoreUnavailable, MaxPartitionNameLen)
	}
	return nil
}

// DegradedFunc is notified when a best-effort operation falls back instead of
// surfacing err. op names the operation, e.g. "policy.load".
type DegradedFunc func(op string, err error)
