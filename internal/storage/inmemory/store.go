// Package inmemory provides a thread-safe in-memory implementation of the
// storage contracts, used by tests and local development.
package inmemory

import (
	"context"
	"sync"

	"github.com/ava-labs/libevm/common"

	"github.com/indexforge/header-indexer/internal/storage"
	"github.com/indexforge/header-indexer/pkg/types"
)

var _ storage.HeaderStore = (*Store)(nil)
var _ storage.HeadStore = (*Store)(nil)

type entry struct {
	header *types.Header
	seq    uint64 // insertion order, breaks Head ties at equal height
}

// Store keeps headers in a map keyed by hash. First write wins, matching the
// durable backend's insert-or-ignore semantics.
type Store struct {
	mu      sync.RWMutex
	headers map[common.Hash]entry
	nextSeq uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		headers: make(map[common.Hash]entry, 64),
	}
}

func (s *Store) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.headers[hash]
	if !ok {
		return nil, nil
	}
	cp := *e.header
	return &cp, nil
}

func (s *Store) SaveHeader(_ context.Context, header *types.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.headers[header.Hash]; ok {
		return nil
	}
	cp := *header
	s.headers[header.Hash] = entry{header: &cp, seq: s.nextSeq}
	s.nextSeq++
	return nil
}

func (s *Store) Head(_ context.Context) (*types.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *entry
	for hash := range s.headers {
		e := s.headers[hash]
		switch {
		case best == nil:
			best = &e
		case e.header.Number > best.header.Number:
			best = &e
		case e.header.Number == best.header.Number && e.seq < best.seq:
			// Equal heights resolve to the earliest write, same as the
			// durable backend's inserted_at ordering.
			best = &e
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.header.Head(), nil
}

// Len reports the number of distinct headers stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.headers)
}
