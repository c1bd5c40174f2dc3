package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbridge/voxbridge/pkg/memstore/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXBRIDGE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXBRIDGE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()
	dsn := testDSN(t)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS memory_records`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestAddAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "user-1", "favorite color is blue"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add(ctx, "user-1", "plays the violin"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add(ctx, "user-2", "favorite color is green"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	records, err := store.Search(ctx, "user-1", "favorite color")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (identity-scoped)", len(records))
	}
	if records[0].Content != "favorite color is blue" {
		t.Errorf("content = %q", records[0].Content)
	}
	if records[0].Score <= 0 {
		t.Errorf("score = %v; want > 0", records[0].Score)
	}
}

func TestListRecent_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, fact := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, "user-1", fact); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	records, err := store.ListRecent(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Content != "third" {
		t.Errorf("newest = %q; want third", records[0].Content)
	}
}

func TestForget_RemovesOnlyIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "user-1", "fact one"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add(ctx, "user-2", "fact two"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Forget(ctx, "user-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	gone, err := store.ListRecent(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("user-1 still has %d records", len(gone))
	}

	kept, err := store.ListRecent(ctx, "user-2", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("user-2 has %d records, want 1", len(kept))
	}
}
