// Package memstore defines the long-term memory store used by voice sessions.
//
// A Store holds free-text facts scoped to a session identity and retrieves
// them by semantic or full-text similarity. The relay never persists records
// itself — it only forwards them between the model and the store.
//
// Failure semantics are deliberately soft: a store that cannot be reached
// reports [ErrUnavailable] and a store that is switched off by configuration
// reports [ErrDisabled]. Neither outcome may ever crash or block a
// conversation; the function-call dispatcher converts both into polite tool
// results so the model continues naturally.
//
// Every implementation must be safe for concurrent use.
package memstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the memory store could not be reached within its
// configured timeout, or the request failed. Transient by nature; callers
// should degrade gracefully rather than propagate.
var ErrUnavailable = errors.New("memory store unavailable")

// ErrDisabled indicates the memory feature is switched off by configuration.
// No network call was attempted.
var ErrDisabled = errors.New("memory store disabled")

// Record is one stored fact scoped to a session identity.
type Record struct {
	// ID is the store-assigned unique identifier.
	ID string

	// Content is the free-text fact.
	Content string

	// Score is the similarity/relevance score in [0, 1] when the record was
	// returned from a search. Zero when not applicable.
	Score float64

	// Topics are optional coarse labels attached at creation time.
	Topics []string

	// CreatedAt is when the record was stored. Zero when the backend does not
	// report it.
	CreatedAt time.Time
}

// Store is the abstraction over any long-term memory backend.
type Store interface {
	// Search returns records for identity ranked by relevance to query.
	// A reachable store with no matches returns an empty slice and nil error.
	Search(ctx context.Context, identity, query string) ([]Record, error)

	// Add stores fact under identity and returns the created record.
	Add(ctx context.Context, identity, fact string) (Record, error)

	// ListRecent returns up to limit records for identity, newest first.
	ListRecent(ctx context.Context, identity string, limit int) ([]Record, error)

	// Forget removes all records for identity. Used by operators and tests.
	Forget(ctx context.Context, identity string) error
}

// Disabled is a Store that reports [ErrDisabled] from every operation without
// any network activity. Wire it in when the memory feature is configured off.
type Disabled struct{}

// Search implements Store.
func (Disabled) Search(context.Context, string, string) ([]Record, error) {
	return nil, ErrDisabled
}

// Add implements Store.
func (Disabled) Add(context.Context, string, string) (Record, error) {
	return Record{}, ErrDisabled
}

// ListRecent implements Store.
func (Disabled) ListRecent(context.Context, string, int) ([]Record, error) {
	return nil, ErrDisabled
}

// Forget implements Store.
func (Disabled) Forget(context.Context, string) error {
	return ErrDisabled
}

var _ Store = Disabled{}
