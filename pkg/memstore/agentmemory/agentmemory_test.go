package agentmemory_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/memstore"
	"github.com/voxbridge/voxbridge/pkg/memstore/agentmemory"
)

func TestSearch_DecodesRecords(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/long-term-memory/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"memories": [
				{"id": "m1", "text": "favorite color is blue", "dist": 0.2,
				 "topics": ["voxbridge"], "created_at": "2026-01-02T15:04:05Z"}
			]
		}`))
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	records, err := c.Search(context.Background(), "user-42", "favorite color")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.ID != "m1" || rec.Content != "favorite color is blue" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Score < 0.79 || rec.Score > 0.81 {
		t.Errorf("score = %v; want 1 - dist = 0.8", rec.Score)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}

	// Request carries the identity filter and default limit.
	if gotBody["text"] != "favorite color" {
		t.Errorf("text = %v", gotBody["text"])
	}
	userFilter, _ := gotBody["user_id"].(map[string]any)
	if userFilter["eq"] != "user-42" {
		t.Errorf("user_id filter = %v", gotBody["user_id"])
	}
	if gotBody["limit"] != float64(10) {
		t.Errorf("limit = %v; want 10", gotBody["limit"])
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"memories": []}`))
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	records, err := c.Search(context.Background(), "user-42", "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

// recordIDPattern is the generated record ID shape: app prefix plus 12 hex
// characters, no hyphens in the random part.
var recordIDPattern = regexp.MustCompile(`^voxbridge-[0-9a-f]{12}$`)

func TestAdd_CreatesMemory(t *testing.T) {
	t.Parallel()

	var gotBody struct {
		Memories []map[string]any `json:"memories"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/long-term-memory/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	rec, err := c.Add(context.Background(), "user-42", "likes jazz")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.Content != "likes jazz" {
		t.Errorf("record content = %q", rec.Content)
	}
	if !recordIDPattern.MatchString(rec.ID) {
		t.Errorf("record ID = %q; want voxbridge-<12 hex>", rec.ID)
	}

	if len(gotBody.Memories) != 1 {
		t.Fatalf("request carried %d memories, want 1", len(gotBody.Memories))
	}
	m := gotBody.Memories[0]
	if m["text"] != "likes jazz" || m["user_id"] != "user-42" {
		t.Errorf("memory = %v", m)
	}
	if m["memory_type"] != "semantic" {
		t.Errorf("memory_type = %v", m["memory_type"])
	}
}

func TestForget_SendsIdentity(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/long-term-memory/forget" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	if err := c.Forget(context.Background(), "user-42"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if gotBody["user_id"] != "user-42" {
		t.Errorf("user_id = %v", gotBody["user_id"])
	}
	if gotBody["dry_run"] != false {
		t.Errorf("dry_run = %v; want false", gotBody["dry_run"])
	}
}

func TestSearch_ServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	_, err := c.Search(context.Background(), "u", "q")
	if !errors.Is(err, memstore.ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
}

func TestSearch_TimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := agentmemory.New(srv.URL, agentmemory.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.Search(context.Background(), "u", "q")
	elapsed := time.Since(start)

	if !errors.Is(err, memstore.ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v; want bounded by configured 50ms plus overhead", elapsed)
	}
}

func TestSearch_UnreachableHostIsUnavailable(t *testing.T) {
	t.Parallel()

	c := agentmemory.New("http://127.0.0.1:1", agentmemory.WithTimeout(200*time.Millisecond))
	_, err := c.Search(context.Background(), "u", "q")
	if !errors.Is(err, memstore.ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
}

func TestDisabled_NoNetworkCalls(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	// The disabled store never touches the network layer at all.
	var store memstore.Store = memstore.Disabled{}

	if _, err := store.Search(context.Background(), "u", "q"); !errors.Is(err, memstore.ErrDisabled) {
		t.Errorf("Search err = %v; want ErrDisabled", err)
	}
	if _, err := store.Add(context.Background(), "u", "fact"); !errors.Is(err, memstore.ErrDisabled) {
		t.Errorf("Add err = %v; want ErrDisabled", err)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("network layer reached %d times; want 0", got)
	}
}

func TestListRecent_UsesEmptyQuery(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"memories": []}`))
	}))
	defer srv.Close()

	c := agentmemory.New(srv.URL)
	if _, err := c.ListRecent(context.Background(), "user-42", 5); err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if gotBody["text"] != "" {
		t.Errorf("text = %v; want empty", gotBody["text"])
	}
	if gotBody["limit"] != float64(5) {
		t.Errorf("limit = %v; want 5", gotBody["limit"])
	}
}
