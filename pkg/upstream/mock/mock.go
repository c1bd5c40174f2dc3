// Package mock provides test doubles for the upstream package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the event stream and inspect which methods the relay
// invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(upstream.Event{Kind: upstream.EventSessionReady})
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/upstream"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg upstream.SessionConfig
}

// Provider is a mock implementation of upstream.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session upstream.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg upstream.SessionConfig) (upstream.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// ToolResult records one SubmitToolResult invocation.
type ToolResult struct {
	CallID string
	Output string
}

// Session is a mock implementation of upstream.SessionHandle. Drive the
// event stream with [Session.Emit] and [Session.Finish]; inspect relay
// behaviour via the recorded fields.
type Session struct {
	mu sync.Mutex

	events chan upstream.Event

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// ErrVal is returned from Err.
	ErrVal error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	// ToolResults records every SubmitToolResult call in order.
	ToolResults []ToolResult

	// ResumeCount is the number of ResumeResponse calls.
	ResumeCount int

	// CloseCount is the number of Close calls.
	CloseCount int

	finishOnce sync.Once
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan upstream.Event, 64)}
}

// Emit pushes an event onto the session's event channel.
func (s *Session) Emit(evt upstream.Event) { s.events <- evt }

// Finish closes the event channel, simulating session termination.
// Idempotent.
func (s *Session) Finish() {
	s.finishOnce.Do(func() { close(s.events) })
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.SentAudio = append(s.SentAudio, c)
	return nil
}

// Events returns the mock event channel.
func (s *Session) Events() <-chan upstream.Event { return s.events }

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// SubmitToolResult records the call.
func (s *Session) SubmitToolResult(callID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResults = append(s.ToolResults, ToolResult{CallID: callID, Output: output})
	return nil
}

// ResumeResponse records the call.
func (s *Session) ResumeResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResumeCount++
	return nil
}

// Close records the call and closes the event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.Finish()
	return nil
}

// SentAudioCount returns the number of recorded SendAudio calls. Thread-safe.
func (s *Session) SentAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}

// Results returns a copy of the recorded tool results. Thread-safe.
func (s *Session) Results() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResult, len(s.ToolResults))
	copy(out, s.ToolResults)
	return out
}

// Resumes returns the recorded ResumeResponse count. Thread-safe.
func (s *Session) Resumes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResumeCount
}

// Closes returns the recorded Close count. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// Compile-time interface assertions.
var _ upstream.Provider = (*Provider)(nil)
var _ upstream.SessionHandle = (*Session)(nil)
