package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/memstore"
)

// GuardedStore wraps a [memstore.Store] with a circuit breaker and request
// metrics. When the breaker is open, operations fail fast with
// [memstore.ErrUnavailable] instead of waiting out the backend timeout, so
// tool calls against a dead backend answer immediately.
type GuardedStore struct {
	inner   memstore.Store
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

// GuardOption configures a [GuardedStore].
type GuardOption func(*GuardedStore)

// WithBreaker replaces the default breaker (5 failures, 30s reset).
func WithBreaker(cb *CircuitBreaker) GuardOption {
	return func(g *GuardedStore) {
		if cb != nil {
			g.breaker = cb
		}
	}
}

// WithMetrics sets the metrics instance. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GuardOption {
	return func(g *GuardedStore) {
		if m != nil {
			g.metrics = m
		}
	}
}

// Guard wraps store with a circuit breaker.
func Guard(store memstore.Store, opts ...GuardOption) *GuardedStore {
	g := &GuardedStore{
		inner:   store,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{Name: "memstore"}),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Breaker exposes the underlying breaker for health checks.
func (g *GuardedStore) Breaker() *CircuitBreaker { return g.breaker }

// do runs op through the breaker and records a request observation.
// ErrDisabled does not count as a backend failure.
func (g *GuardedStore) do(ctx context.Context, name string, op func() error) error {
	start := time.Now()
	err := g.breaker.Execute(func() error {
		err := op()
		if errors.Is(err, memstore.ErrDisabled) {
			return nil
		}
		return err
	})

	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "circuit_open"
		err = fmt.Errorf("%w: %s circuit open", memstore.ErrUnavailable, name)
	case err != nil:
		status = "error"
	}
	g.metrics.RecordMemoryRequest(ctx, name, status, time.Since(start))
	return err
}

// Search implements memstore.Store.
func (g *GuardedStore) Search(ctx context.Context, identity, query string) ([]memstore.Record, error) {
	var records []memstore.Record
	var innerErr error
	err := g.do(ctx, "search", func() error {
		records, innerErr = g.inner.Search(ctx, identity, query)
		return innerErr
	})
	if innerErr != nil {
		return nil, innerErr
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Add implements memstore.Store.
func (g *GuardedStore) Add(ctx context.Context, identity, fact string) (memstore.Record, error) {
	var rec memstore.Record
	var innerErr error
	err := g.do(ctx, "add", func() error {
		rec, innerErr = g.inner.Add(ctx, identity, fact)
		return innerErr
	})
	if innerErr != nil {
		return memstore.Record{}, innerErr
	}
	if err != nil {
		return memstore.Record{}, err
	}
	return rec, nil
}

// ListRecent implements memstore.Store.
func (g *GuardedStore) ListRecent(ctx context.Context, identity string, limit int) ([]memstore.Record, error) {
	var records []memstore.Record
	var innerErr error
	err := g.do(ctx, "list_recent", func() error {
		records, innerErr = g.inner.ListRecent(ctx, identity, limit)
		return innerErr
	})
	if innerErr != nil {
		return nil, innerErr
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Forget implements memstore.Store.
func (g *GuardedStore) Forget(ctx context.Context, identity string) error {
	return g.do(ctx, "forget", func() error {
		return g.inner.Forget(ctx, identity)
	})
}

// Compile-time interface assertion.
var _ memstore.Store = (*GuardedStore)(nil)
