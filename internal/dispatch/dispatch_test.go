package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/dispatch"
	"github.com/voxbridge/voxbridge/pkg/memstore"
	"github.com/voxbridge/voxbridge/pkg/memstore/mock"
	"github.com/voxbridge/voxbridge/pkg/upstream"
)

func decodePayload(t *testing.T, out string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not valid JSON: %v\npayload: %s", err, out)
	}
	return payload
}

func TestDispatch_SearchMemory(t *testing.T) {
	t.Parallel()
	store := &mock.Store{
		SearchRecords: []memstore.Record{
			{ID: "voxbridge-abc123def456", Content: "favorite color is blue", Score: 0.92},
		},
	}
	d := dispatch.New(store)

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-1",
		Name:      dispatch.ToolSearchMemory,
		Arguments: `{"query": "favorite color"}`,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.CallID != "call-1" {
		t.Errorf("CallID = %q, want call-1", res.CallID)
	}

	payload := decodePayload(t, res.Output)
	if payload["success"] != true {
		t.Errorf("success = %v, want true", payload["success"])
	}
	if payload["count"] != float64(1) {
		t.Errorf("count = %v, want 1", payload["count"])
	}
	if !strings.Contains(res.Output, "blue") {
		t.Errorf("result should contain the record content, got: %s", res.Output)
	}

	calls := store.Searches()
	if len(calls) != 1 {
		t.Fatalf("expected 1 search call, got %d", len(calls))
	}
	if calls[0].Identity != "user-1" || calls[0].Query != "favorite color" {
		t.Errorf("search call = %+v", calls[0])
	}
}

func TestDispatch_SearchMemoryEmpty(t *testing.T) {
	t.Parallel()
	d := dispatch.New(&mock.Store{})

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-1",
		Name:      dispatch.ToolSearchMemory,
		Arguments: `{"query": "anything"}`,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	payload := decodePayload(t, res.Output)
	if payload["count"] != float64(0) {
		t.Errorf("count = %v, want 0", payload["count"])
	}
	if _, ok := payload["memories"].([]any); !ok {
		t.Errorf("memories should be a JSON array even when empty, got: %s", res.Output)
	}
}

func TestDispatch_AddMemory(t *testing.T) {
	t.Parallel()
	store := &mock.Store{
		AddRecord: memstore.Record{ID: "voxbridge-abc123def456", Content: "lives in Berlin"},
	}
	d := dispatch.New(store)

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-2",
		Name:      dispatch.ToolAddMemory,
		Arguments: `{"text": "lives in Berlin"}`,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	payload := decodePayload(t, res.Output)
	if payload["success"] != true {
		t.Errorf("success = %v, want true", payload["success"])
	}

	adds := store.Adds()
	if len(adds) != 1 {
		t.Fatalf("expected 1 add call, got %d", len(adds))
	}
	if adds[0].Identity != "user-1" || adds[0].Fact != "lives in Berlin" {
		t.Errorf("add call = %+v", adds[0])
	}
}

func TestDispatch_MalformedArguments(t *testing.T) {
	t.Parallel()
	d := dispatch.New(&mock.Store{})

	cases := []struct {
		name string
		tool string
		args string
	}{
		{"invalid json", dispatch.ToolSearchMemory, `{"query": `},
		{"missing query", dispatch.ToolSearchMemory, `{}`},
		{"empty arguments", dispatch.ToolSearchMemory, ``},
		{"missing text", dispatch.ToolAddMemory, `{"other": 1}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
				CallID:    "call-3",
				Name:      tc.tool,
				Arguments: tc.args,
			})
			if !errors.Is(res.Err, dispatch.ErrInvalidArguments) {
				t.Errorf("Err = %v, want ErrInvalidArguments", res.Err)
			}
			payload := decodePayload(t, res.Output)
			if payload["success"] != false {
				t.Errorf("success = %v, want false", payload["success"])
			}
		})
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	t.Parallel()
	store := &mock.Store{}
	d := dispatch.New(store)

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-4",
		Name:      "launch_missiles",
		Arguments: `{}`,
	})
	if !errors.Is(res.Err, dispatch.ErrUnknownTool) {
		t.Errorf("Err = %v, want ErrUnknownTool", res.Err)
	}

	payload := decodePayload(t, res.Output)
	if payload["success"] != false {
		t.Errorf("success = %v, want false", payload["success"])
	}
	if len(store.Searches()) != 0 || len(store.Adds()) != 0 {
		t.Error("unknown tool must not reach the store")
	}
}

func TestDispatch_StoreUnavailable(t *testing.T) {
	t.Parallel()
	d := dispatch.New(&mock.Store{SearchErr: memstore.ErrUnavailable})

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-5",
		Name:      dispatch.ToolSearchMemory,
		Arguments: `{"query": "anything"}`,
	})
	if !errors.Is(res.Err, memstore.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", res.Err)
	}

	payload := decodePayload(t, res.Output)
	if payload["success"] != false {
		t.Errorf("success = %v, want false", payload["success"])
	}
	if !strings.Contains(payload["error"].(string), "unavailable") {
		t.Errorf("error message should mention unavailability, got: %v", payload["error"])
	}
}

func TestDispatch_MemoryDisabled(t *testing.T) {
	t.Parallel()
	d := dispatch.New(memstore.Disabled{})

	res := d.Dispatch(context.Background(), "user-1", upstream.ToolCall{
		CallID:    "call-6",
		Name:      dispatch.ToolAddMemory,
		Arguments: `{"text": "a fact"}`,
	})
	if !errors.Is(res.Err, memstore.ErrDisabled) {
		t.Errorf("Err = %v, want ErrDisabled", res.Err)
	}

	payload := decodePayload(t, res.Output)
	if payload["success"] != false {
		t.Errorf("success = %v, want false", payload["success"])
	}
}

func TestDispatch_TimeoutStillProducesResult(t *testing.T) {
	t.Parallel()
	store := &mock.Store{SearchDelay: make(chan struct{})}
	d := dispatch.New(store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan dispatch.Result, 1)
	go func() {
		done <- d.Dispatch(ctx, "user-1", upstream.ToolCall{
			CallID:    "call-7",
			Name:      dispatch.ToolSearchMemory,
			Arguments: `{"query": "anything"}`,
		})
	}()

	select {
	case res := <-done:
		if res.Output == "" {
			t.Error("timed-out dispatch must still produce a result payload")
		}
		if !errors.Is(res.Err, memstore.ErrUnavailable) {
			t.Errorf("Err = %v, want ErrUnavailable", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch hung past the store timeout")
	}
}

func TestDefinitions(t *testing.T) {
	t.Parallel()
	defs := dispatch.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 tool definitions, got %d", len(defs))
	}

	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
		if def.Description == "" {
			t.Errorf("tool %q has no description", def.Name)
		}
		if def.Parameters["type"] != "object" {
			t.Errorf("tool %q parameters should be an object schema", def.Name)
		}
	}
	if !names[dispatch.ToolSearchMemory] || !names[dispatch.ToolAddMemory] {
		t.Errorf("definitions missing expected tools, got %v", names)
	}
}
