// Package dispatch routes model-issued tool calls to the memory store and
// formats their outcome as tool-result payloads.
//
// Every dispatched call produces exactly one result payload, including all
// error paths: malformed arguments, unknown tool names, and memory store
// failures are reported back to the model instead of being dropped, so the
// conversation is never left waiting on a tool that silently failed.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxbridge/voxbridge/pkg/memstore"
	"github.com/voxbridge/voxbridge/pkg/upstream"
)

// Tool names understood by the dispatcher.
const (
	ToolSearchMemory = "search_memory"
	ToolAddMemory    = "add_memory"
)

var (
	// ErrInvalidArguments indicates the model supplied an argument payload
	// that is not valid JSON or is missing a required field.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrUnknownTool indicates the model invoked a tool name the dispatcher
	// does not handle.
	ErrUnknownTool = errors.New("unknown tool")
)

// State tracks a tool call through its lifecycle.
type State int

const (
	StatePending State = iota
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one dispatched tool call. Output is always a
// complete JSON payload ready for submission upstream; Err carries the
// underlying failure, if any, for logging and metrics.
type Result struct {
	CallID string
	Output string
	Err    error
}

// Dispatcher executes memory tool calls against a [memstore.Store].
type Dispatcher struct {
	store memstore.Store
	log   *slog.Logger
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a dispatcher backed by store.
func New(store memstore.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Definitions returns the tool definitions to advertise in the upstream
// session config.
func Definitions() []upstream.ToolDefinition {
	return []upstream.ToolDefinition{
		{
			Name:        ToolSearchMemory,
			Description: "Search the user's long-term memory for relevant facts and preferences. Use this before answering questions about the user.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Natural language description of what to look for, e.g. 'favorite color'.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolAddMemory,
			Description: "Store a fact about the user in long-term memory, e.g. a preference or personal detail they shared.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The fact to remember, phrased as a standalone statement.",
					},
				},
				"required": []string{"text"},
			},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

type addArgs struct {
	Text string `json:"text"`
}

// Dispatch executes one tool call for the given session identity and returns
// its result. It never returns an empty Output: failures are encoded as
// `{"success": false, "error": ...}` payloads so the caller can always submit
// something upstream.
func (d *Dispatcher) Dispatch(ctx context.Context, identity string, call upstream.ToolCall) Result {
	log := d.log.With("call_id", call.CallID, "tool", call.Name, "identity", identity)
	log.Debug("dispatching tool call", "state", StateExecuting)

	out, err := d.execute(ctx, identity, call)
	if err != nil {
		log.Warn("tool call failed", "err", err)
		out = errorPayload(err)
	}
	log.Debug("tool call finished", "state", StateCompleted, "ok", err == nil)

	return Result{CallID: call.CallID, Output: out, Err: err}
}

func (d *Dispatcher) execute(ctx context.Context, identity string, call upstream.ToolCall) (string, error) {
	switch call.Name {
	case ToolSearchMemory:
		var args searchArgs
		if err := parseArgs(call.Arguments, &args); err != nil {
			return "", err
		}
		if args.Query == "" {
			return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		return d.search(ctx, identity, args.Query)

	case ToolAddMemory:
		var args addArgs
		if err := parseArgs(call.Arguments, &args); err != nil {
			return "", err
		}
		if args.Text == "" {
			return "", fmt.Errorf("%w: text is required", ErrInvalidArguments)
		}
		return d.add(ctx, identity, args.Text)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
}

func parseArgs(raw string, into any) error {
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func (d *Dispatcher) search(ctx context.Context, identity, query string) (string, error) {
	records, err := d.store.Search(ctx, identity, query)
	if err != nil {
		return "", err
	}

	type memoryOut struct {
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	}
	memories := make([]memoryOut, 0, len(records))
	for _, r := range records {
		memories = append(memories, memoryOut{Content: r.Content, Score: r.Score})
	}

	return marshalPayload(map[string]any{
		"success":  true,
		"memories": memories,
		"count":    len(memories),
	})
}

func (d *Dispatcher) add(ctx context.Context, identity, text string) (string, error) {
	rec, err := d.store.Add(ctx, identity, text)
	if err != nil {
		return "", err
	}
	return marshalPayload(map[string]any{
		"success": true,
		"memory": map[string]any{
			"id":      rec.ID,
			"content": rec.Content,
		},
	})
}

// errorPayload maps a dispatch failure to the JSON result returned to the
// model. Store outcomes get conversational phrasing so the model can relay
// them naturally.
func errorPayload(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, memstore.ErrDisabled):
		msg = "long-term memory is disabled for this assistant"
	case errors.Is(err, memstore.ErrUnavailable):
		msg = "the memory service is temporarily unavailable"
	}
	out, _ := marshalPayload(map[string]any{
		"success": false,
		"error":   msg,
	})
	return out
}

func marshalPayload(v map[string]any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal result: %w", err)
	}
	return string(b), nil
}
