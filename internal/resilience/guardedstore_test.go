package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/pkg/memstore"
	"github.com/voxbridge/voxbridge/pkg/memstore/mock"
)

func TestGuardedStore_PassesThroughHealthyStore(t *testing.T) {
	t.Parallel()
	store := &mock.Store{
		SearchRecords: []memstore.Record{{Content: "blue"}},
		AddRecord:     memstore.Record{ID: "voxbridge-1", Content: "a fact"},
	}
	g := resilience.Guard(store)

	records, err := g.Search(context.Background(), "user-1", "color")
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if len(records) != 1 || records[0].Content != "blue" {
		t.Errorf("records = %+v", records)
	}

	rec, err := g.Add(context.Background(), "user-1", "a fact")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if rec.ID != "voxbridge-1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGuardedStore_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	store := &mock.Store{SearchErr: memstore.ErrUnavailable}
	g := resilience.Guard(store, resilience.WithBreaker(
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "test",
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		}),
	))

	for i := 0; i < 2; i++ {
		if _, err := g.Search(context.Background(), "u", "q"); err == nil {
			t.Fatal("expected failure from backing store")
		}
	}
	if got := g.Breaker().State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	// Open breaker fails fast without touching the store.
	before := len(store.Searches())
	_, err := g.Search(context.Background(), "u", "q")
	if !errors.Is(err, memstore.ErrUnavailable) {
		t.Errorf("open-circuit error = %v, want ErrUnavailable", err)
	}
	if got := len(store.Searches()); got != before {
		t.Errorf("open breaker must not reach the store; calls %d → %d", before, got)
	}
}

func TestGuardedStore_DisabledIsNotAFailure(t *testing.T) {
	t.Parallel()
	g := resilience.Guard(memstore.Disabled{}, resilience.WithBreaker(
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "test",
			MaxFailures: 2,
		}),
	))

	for i := 0; i < 5; i++ {
		if _, err := g.Search(context.Background(), "u", "q"); !errors.Is(err, memstore.ErrDisabled) {
			t.Fatalf("expected ErrDisabled, got %v", err)
		}
	}
	if got := g.Breaker().State(); got != resilience.StateClosed {
		t.Errorf("disabled store must not trip the breaker, state = %v", got)
	}
}

func TestGuardedStore_ForgetPassesThrough(t *testing.T) {
	t.Parallel()
	g := resilience.Guard(&mock.Store{})
	if err := g.Forget(context.Background(), "user-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
