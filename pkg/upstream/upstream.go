// Package upstream defines the Provider interface for realtime
// speech-to-speech backends.
//
// An upstream provider wraps a hosted voice model service that accepts raw
// PCM16 audio and returns synthesised audio in a single, stateful session —
// no separate STT → LLM → TTS stages. The central abstraction is
// SessionHandle: a duplex session that carries audio in both directions and
// surfaces everything else (speech boundaries, transcripts, tool calls,
// errors) as a single ordered stream of typed [Event] values. Consuming one
// channel of tagged events keeps per-session processing strictly ordered and
// avoids scattering state across callbacks.
//
// All implementations must be safe for concurrent use.
package upstream

import "context"

// ToolDefinition describes one function the model may invoke mid-conversation.
// The schema follows the realtime function-calling convention: a JSON Schema
// object in Parameters.
type ToolDefinition struct {
	// Name is the function name the model uses to invoke the tool.
	Name string

	// Description tells the model when to call the tool.
	Description string

	// Parameters is the JSON Schema for the tool's argument object.
	Parameters map[string]any
}

// TurnDetection holds the server-side voice-activity-detection parameters for
// a session. The provider runs VAD itself and emits speech started/stopped
// events; these knobs tune its sensitivity.
type TurnDetection struct {
	// Threshold is the activation threshold in [0, 1]. Higher values require
	// louder speech to trigger a turn.
	Threshold float64

	// PrefixPaddingMs is how much audio before the detected speech onset is
	// included in the turn.
	PrefixPaddingMs int

	// SilenceDurationMs is how long the user must be silent before the turn
	// is considered finished.
	SilenceDurationMs int
}

// SessionConfig is the initial configuration for a new upstream session.
// Audio format is fixed to PCM16 in both directions; it is part of the wire
// contract, not a configuration knob.
type SessionConfig struct {
	// Instructions is the system-level prompt defining the assistant's
	// behaviour.
	Instructions string

	// Voice selects the synthesised voice by provider-specific name.
	Voice string

	// Tools is the set of function definitions offered to the model.
	// Tool selection is always automatic (tool_choice=auto) when non-empty.
	Tools []ToolDefinition

	// TurnDetection tunes server-side VAD. Nil selects the provider defaults.
	TurnDetection *TurnDetection

	// EchoCancellation requests provider-side echo cancellation on input audio.
	EchoCancellation bool

	// NoiseReduction selects a provider-side noise reduction mode.
	// Empty disables the setting.
	NoiseReduction string
}

// EventKind tags an [Event] variant.
type EventKind int

const (
	// EventSessionReady signals the provider has acknowledged the session
	// configuration and is ready to accept audio.
	EventSessionReady EventKind = iota

	// EventSpeechStarted signals server-side VAD detected the user speaking.
	// This is the barge-in trigger: any queued playback must be flushed
	// before further audio is forwarded.
	EventSpeechStarted

	// EventSpeechStopped signals the user's turn has ended.
	EventSpeechStopped

	// EventAudioDelta carries a chunk of synthesised response audio.
	EventAudioDelta

	// EventTranscriptDelta carries an incremental piece of the response
	// transcript.
	EventTranscriptDelta

	// EventFunctionCall signals the model has finished emitting the arguments
	// of a function call and expects a tool result.
	EventFunctionCall

	// EventResponseDone signals the model has finished the current response.
	EventResponseDone

	// EventError carries a session-level error from the provider. The session
	// is not usable afterwards.
	EventError
)

// String returns the wire-style name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSessionReady:
		return "session_ready"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventAudioDelta:
		return "audio_delta"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventFunctionCall:
		return "function_call"
	case EventResponseDone:
		return "response_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCall identifies one model-issued function invocation. Every ToolCall
// surfaced through an [Event] must be answered exactly once via
// [SessionHandle.SubmitToolResult], with either a success or an error payload,
// unless the session closes first.
type ToolCall struct {
	// CallID is the provider-assigned identifier keyed by SubmitToolResult.
	CallID string

	// Name is the invoked tool name.
	Name string

	// Arguments is the raw JSON-encoded argument object.
	Arguments string
}

// Event is one tagged occurrence on the upstream session. Exactly the fields
// relevant to Kind are populated:
//
//   - EventAudioDelta: Audio (raw little-endian PCM16, never base64)
//   - EventTranscriptDelta: Text
//   - EventFunctionCall: Call
//   - EventError: Err
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	Call  ToolCall
	Err   error
}

// SessionHandle represents an open upstream session. It is an interface so
// that test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the relay — every method must return
// quickly. Events are channel-based so the relay's pump owns the ordering.
// All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM16 chunk at the negotiated sample rate to
	// the provider. Returns an error if the session is closed or the provider
	// cannot accept the chunk.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel emitting session events strictly in
	// the order they arrive from the provider. The channel is closed when the
	// session ends; after it closes, call [SessionHandle.Err] to check whether
	// the session ended cleanly. Consumers must drain promptly to avoid
	// stalling the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Valid after the Events channel is closed.
	Err() error

	// SubmitToolResult delivers the output of a completed tool call, keyed by
	// the call identifier from the originating [ToolCall].
	SubmitToolResult(callID, output string) error

	// ResumeResponse asks the model to continue generating after a tool
	// result has been submitted.
	ResumeResponse() error

	// Close terminates the session and releases all resources, closing the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
//
// Implementations must be safe for concurrent use: the connection manager
// opens one session per browser connection.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept audio once it has emitted
	// [EventSessionReady]. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
