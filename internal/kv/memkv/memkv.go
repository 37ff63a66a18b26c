// Package memkv provides an in-memory implementation of kv.Store. Suitable for
// dev/testing. Faults can be injected per operation to exercise degraded paths.
package memkv

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/linnemanlabs/warden/internal/kv"
)

// Store holds partitions in memory. Nothing survives process exit.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	lastID     uint64

	openErr   error
	insertErr error
	flushErr  error
	idErr     error
}

// New initializes an empty Store.
func New() *Store {
	return &Store{partitions: make(map[string]*partition)}
}

// FailOpen makes every OpenPartition call fail with err. nil clears the fault.
func (s *Store) FailOpen(err error) { s.setFault(&s.openErr, err) }

// FailInsert makes every Insert fail with err. nil clears the fault.
func (s *Store) FailInsert(err error) { s.setFault(&s.insertErr, err) }

// FailFlush makes every Flush fail with err. nil clears the fault.
func (s *Store) FailFlush(err error) { s.setFault(&s.flushErr, err) }

// FailGenerateID makes every GenerateID call fail with err. nil clears the fault.
func (s *Store) FailGenerateID(err error) { s.setFault(&s.idErr, err) }

func (s *Store) setFault(dst *error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*dst = err
}

func (s *Store) fault(src *error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *src
}

// OpenPartition returns the named partition, creating it on first use.
func (s *Store) OpenPartition(_ context.Context, name string) (kv.Partition, error) {
	if err := kv.ValidatePartitionName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, fmt.Errorf("%w: open %s: %w", kv.ErrStoreUnavailable, name, s.openErr)
	}
	p, ok := s.partitions[name]
	if !ok {
		p = &partition{store: s, name: name, entries: make(map[string][]byte)}
		s.partitions[name] = p
	}
	return p, nil
}

// GenerateID returns the next id. The first id is 1.
func (s *Store) GenerateID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idErr != nil {
		return 0, fmt.Errorf("%w: %w", kv.ErrIDGeneration, s.idErr)
	}
	s.lastID++
	return s.lastID, nil
}

// Len reports the number of entries in the named partition, 0 if it was never opened.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	p, ok := s.partitions[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

type partition struct {
	store   *Store
	name    string
	mu      sync.RWMutex
	entries map[string][]byte
}

func (p *partition) Name() string { return p.name }

// Get returns a copy of the stored value.
func (p *partition) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Insert stores a copy of value.
func (p *partition) Insert(_ context.Context, key, value []byte) error {
	if err := p.store.fault(&p.store.insertErr); err != nil {
		return fmt.Errorf("%w: insert %s/%s: %w", kv.ErrWriteFailed, p.name, key, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[string(key)] = slices.Clone(value)
	return nil
}

// Flush is a no-op unless a fault is injected.
func (p *partition) Flush(_ context.Context) error {
	if err := p.store.fault(&p.store.flushErr); err != nil {
		return fmt.Errorf("%w: flush %s: %w", kv.ErrFlushFailed, p.name, err)
	}
	return nil
}

// Scan iterates a snapshot of the partition in ascending key order.
func (p *partition) Scan(ctx context.Context, fn func(key, value []byte) bool) error {
	p.mu.RLock()
	keys := make([]string, 0, len(p.entries))
	snap := make(map[string][]byte, len(p.entries))
	for k, v := range p.entries {
		keys = append(keys, k)
		snap[k] = v
	}
	p.mu.RUnlock()

	slices.Sort(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn([]byte(k), slices.Clone(snap[k])) {
			return nil
		}
	}
	return nil
}
