// Package voicelive implements the upstream.Provider interface for the Azure
// Voice Live realtime API.
//
// It establishes a bidirectional WebSocket connection to the Voice Live
// endpoint and exchanges JSON events according to the realtime protocol.
// Input audio is transmitted as base64-encoded PCM16 chunks inside
// input_audio_buffer.append events. Response audio deltas arrive base64-coded
// in JSON and are decoded once here, so the rest of the relay only ever sees
// raw PCM16 — this is a fixed fact of the wire contract regardless of what
// the provider documentation implies about delta payloads.
package voicelive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/pkg/upstream"
)

// Compile-time assertions that Provider and session satisfy the upstream interfaces.
var _ upstream.Provider = (*Provider)(nil)
var _ upstream.SessionHandle = (*session)(nil)

const (
	defaultModel      = "gpt-4o-mini-realtime-preview"
	defaultAPIVersion = "2025-05-01-preview"

	// eventBuf is the buffer depth of the session event channel. Deep enough
	// to absorb bursts of audio deltas without stalling the receive loop.
	eventBuf = 128
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements upstream.Provider for the Azure Voice Live API.
type Provider struct {
	endpoint   string
	apiKey     string
	model      string
	apiVersion string
}

// New creates a Voice Live Provider for the given endpoint and API key.
// The endpoint is the account base URL (wss://... or https://...); the
// realtime path and query parameters are appended by Connect.
func New(endpoint, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Voice Live session with the given configuration.
// The returned SessionHandle emits [upstream.EventSessionReady] once the
// provider acknowledges the session.update message.
func (p *Provider) Connect(ctx context.Context, cfg upstream.SessionConfig) (upstream.SessionHandle, error) {
	wsURL, err := p.sessionURL()
	if err != nil {
		return nil, fmt.Errorf("voicelive: endpoint: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"api-key": []string{p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("voicelive: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan upstream.Event, eventBuf),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("voicelive: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// sessionURL builds the realtime WebSocket URL from the configured endpoint,
// coercing http(s) schemes to ws(s).
func (p *Provider) sessionURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u = u.JoinPath("voice-live", "realtime")
	q := u.Query()
	q.Set("api-version", p.apiVersion)
	q.Set("model", p.model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string        `json:"modalities"`
	Voice             *voiceParams    `json:"voice,omitempty"`
	Instructions      string          `json:"instructions,omitempty"`
	InputAudioFormat  string          `json:"input_audio_format"`
	OutputAudioFormat string          `json:"output_audio_format"`
	TurnDetection     *turnDetection  `json:"turn_detection,omitempty"`
	EchoCancellation  *struct{}       `json:"input_audio_echo_cancellation,omitempty"`
	NoiseReduction    *noiseReduction `json:"input_audio_noise_reduction,omitempty"`
	Tools             []toolParams    `json:"tools,omitempty"`
	ToolChoice        string          `json:"tool_choice,omitempty"`
}

type voiceParams struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type toolParams struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in a realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan upstream.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event carrying the full session
// configuration: modalities, instructions, voice, PCM16 audio formats,
// server VAD, tool definitions, and automatic tool choice.
func (s *session) sendSessionUpdate(cfg upstream.SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Voice != "" {
		params.Voice = &voiceParams{Name: cfg.Voice, Type: "azure-standard"}
	}
	if td := cfg.TurnDetection; td != nil {
		params.TurnDetection = &turnDetection{
			Type:              "server_vad",
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	if cfg.EchoCancellation {
		params.EchoCancellation = &struct{}{}
	}
	if cfg.NoiseReduction != "" {
		params.NoiseReduction = &noiseReduction{Type: cfg.NoiseReduction}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toWireTools(cfg.Tools)
		params.ToolChoice = "auto"
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("voicelive: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and forwards them as typed
// upstream events. It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannel()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

// handleServerEvent translates one wire event into an upstream.Event and
// emits it. Unrecognised event types are ignored; the protocol sends many
// bookkeeping events the relay has no use for.
func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.updated":
		s.emit(upstream.Event{Kind: upstream.EventSessionReady})

	case "input_audio_buffer.speech_started":
		s.emit(upstream.Event{Kind: upstream.EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		s.emit(upstream.Event{Kind: upstream.EventSpeechStopped})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(upstream.Event{Kind: upstream.EventAudioDelta, Audio: pcm})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.emit(upstream.Event{Kind: upstream.EventTranscriptDelta, Text: evt.Delta})

	case "response.function_call_arguments.done":
		s.emit(upstream.Event{
			Kind: upstream.EventFunctionCall,
			Call: upstream.ToolCall{
				CallID:    evt.CallID,
				Name:      evt.Name,
				Arguments: evt.Arguments,
			},
		})

	case "response.done":
		s.emit(upstream.Event{Kind: upstream.EventResponseDone})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(upstream.Event{Kind: upstream.EventError, Err: fmt.Errorf("voicelive: %s", msg)})
	}
}

// emit delivers an event to the session channel, giving up if the session
// context is cancelled.
func (s *session) emit(evt upstream.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannel() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// toWireTools converts upstream.ToolDefinition values to realtime tool format.
func toWireTools(tools []upstream.ToolDefinition) []toolParams {
	out := make([]toolParams, len(tools))
	for i, t := range tools {
		out[i] = toolParams{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 chunk to the model as a base64
// input_audio_buffer.append event.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("voicelive: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Events returns the channel on which typed session events arrive.
func (s *session) Events() <-chan upstream.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SubmitToolResult returns a tool call's output as a function_call_output
// conversation item keyed by callID.
func (s *session) SubmitToolResult(callID, output string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("voicelive: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// ResumeResponse triggers the next model response after a tool result.
func (s *session) ResumeResponse() error {
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
