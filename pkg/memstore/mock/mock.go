// Package mock provides a test double for the memstore.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/memstore"
)

// SearchCall records one Search invocation.
type SearchCall struct {
	Identity string
	Query    string
}

// AddCall records one Add invocation.
type AddCall struct {
	Identity string
	Fact     string
}

// Store is a mock implementation of memstore.Store. Configure the return
// values and inspect the recorded calls.
type Store struct {
	mu sync.Mutex

	// SearchRecords is returned from Search when SearchErr is nil.
	SearchRecords []memstore.Record

	// SearchErr, if non-nil, is returned from Search.
	SearchErr error

	// AddRecord is returned from Add when AddErr is nil.
	AddRecord memstore.Record

	// AddErr, if non-nil, is returned from Add.
	AddErr error

	// SearchDelay, if set, makes Search block until the context is cancelled
	// or the delay channel is closed. Used to test timeout behaviour.
	SearchDelay chan struct{}

	// SearchCalls records every Search invocation in order.
	SearchCalls []SearchCall

	// AddCalls records every Add invocation in order.
	AddCalls []AddCall
}

// Search records the call and returns the configured records or error.
func (s *Store) Search(ctx context.Context, identity, query string) ([]memstore.Record, error) {
	s.mu.Lock()
	s.SearchCalls = append(s.SearchCalls, SearchCall{Identity: identity, Query: query})
	delay := s.SearchDelay
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, memstore.ErrUnavailable
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return s.SearchRecords, nil
}

// Add records the call and returns the configured record or error.
func (s *Store) Add(ctx context.Context, identity, fact string) (memstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddCalls = append(s.AddCalls, AddCall{Identity: identity, Fact: fact})
	if s.AddErr != nil {
		return memstore.Record{}, s.AddErr
	}
	return s.AddRecord, nil
}

// ListRecent returns SearchRecords truncated to limit.
func (s *Store) ListRecent(ctx context.Context, identity string, limit int) ([]memstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if limit > 0 && limit < len(s.SearchRecords) {
		return s.SearchRecords[:limit], nil
	}
	return s.SearchRecords, nil
}

// Forget is a no-op.
func (s *Store) Forget(ctx context.Context, identity string) error { return nil }

// Searches returns a copy of the recorded Search calls. Thread-safe.
func (s *Store) Searches() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SearchCall, len(s.SearchCalls))
	copy(out, s.SearchCalls)
	return out
}

// Adds returns a copy of the recorded Add calls. Thread-safe.
func (s *Store) Adds() []AddCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AddCall, len(s.AddCalls))
	copy(out, s.AddCalls)
	return out
}

// Compile-time interface assertion.
var _ memstore.Store = (*Store)(nil)
