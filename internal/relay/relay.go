// Package relay implements the per-connection bridge between a browser
// WebSocket and an upstream speech session.
//
// Each browser connection owns exactly one [Relay], which owns exactly one
// upstream session. Two pumps run for the lifetime of the relay: the inbound
// pump decodes browser messages and forwards microphone audio upstream, and
// the outbound pump consumes the upstream event stream in strict arrival
// order, forwarding synthesised audio and transcripts to the browser,
// applying barge-in, and orchestrating tool-call round-trips. Tool calls are
// dispatched on their own goroutine so slow memory lookups never stall event
// processing; the completed result re-enters the outbound pump through a
// channel, preserving ordered delivery to the upstream session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/dispatch"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/upstream"
)

// DefaultIdentity is the session identity used when the browser supplies none.
const DefaultIdentity = "anonymous_user"

// toolResultBuf bounds completed tool results waiting for the outbound pump.
const toolResultBuf = 8

// State describes where a relay is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateInterrupted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the browser leg of a relay: one WebSocket carrying JSON text
// frames. Implementations must support one concurrent reader and writer;
// Write may be called from both pumps and must serialise internally.
type Conn interface {
	// Read returns the next text frame from the browser.
	Read(ctx context.Context) ([]byte, error)

	// Write delivers one text frame to the browser.
	Write(ctx context.Context, data []byte) error
}

// Sentinel errors used to unwind the pump errgroup. Both describe normal
// endings, not failures; Run translates them to nil.
var (
	errBrowserClosed  = errors.New("browser connection closed")
	errUpstreamClosed = errors.New("upstream session ended")
)

// Relay bridges one browser connection to one upstream session.
type Relay struct {
	id         string
	identity   string
	conn       Conn
	provider   upstream.Provider
	dispatcher *dispatch.Dispatcher
	sessionCfg upstream.SessionConfig
	clientRate int
	resampler  *audio.Resampler
	log        *slog.Logger
	metrics    *observe.Metrics

	state atomic.Int32

	mu    sync.Mutex
	muted bool

	playback *PlaybackQueue
	toolDone chan dispatch.Result
	toolWG   sync.WaitGroup
}

// Option is a functional option for configuring a [Relay].
type Option func(*Relay)

// WithIdentity sets the session identity used to scope memory operations.
// Empty values are ignored; the default is [DefaultIdentity].
func WithIdentity(identity string) Option {
	return func(r *Relay) {
		if identity != "" {
			r.identity = identity
		}
	}
}

// WithSessionConfig sets the upstream session configuration. The relay
// overwrites the tool list with the dispatcher's definitions.
func WithSessionConfig(cfg upstream.SessionConfig) Option {
	return func(r *Relay) {
		r.sessionCfg = cfg
	}
}

// WithClientSampleRate sets the sample rate of browser-captured audio.
// Frames are resampled to the fixed relay rate when it differs. The default
// assumes the browser already captures at the relay rate.
func WithClientSampleRate(rate int) Option {
	return func(r *Relay) {
		if rate > 0 {
			r.clientRate = rate
		}
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the metrics instance. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a relay for one accepted browser connection. Run must be called
// to start it.
func New(conn Conn, provider upstream.Provider, dispatcher *dispatch.Dispatcher, opts ...Option) *Relay {
	r := &Relay{
		id:         uuid.NewString(),
		identity:   DefaultIdentity,
		conn:       conn,
		provider:   provider,
		dispatcher: dispatcher,
		clientRate: audio.RelayRate,
		resampler:  &audio.Resampler{TargetRate: audio.RelayRate},
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		playback:   &PlaybackQueue{},
		toolDone:   make(chan dispatch.Result, toolResultBuf),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("relay_id", r.id, "identity", r.identity)
	return r
}

// ID returns the relay's unique connection identifier.
func (r *Relay) ID() string { return r.id }

// Identity returns the session identity scoping memory operations.
func (r *Relay) Identity() string { return r.identity }

// State returns the relay's current lifecycle state.
func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) setState(s State) { r.state.Store(int32(s)) }

// Muted reports whether browser audio is currently being discarded.
func (r *Relay) Muted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.muted
}

func (r *Relay) setMuted(m bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = m
}

// Run connects the upstream session and drives both pumps until the browser
// disconnects, the upstream session ends, or ctx is cancelled. It always
// closes the upstream session before returning. A nil return means a normal
// teardown; a non-nil return means the session failed.
func (r *Relay) Run(ctx context.Context) error {
	start := time.Now()
	r.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		r.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		r.metrics.SessionDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
	}()

	r.setState(StateConnecting)
	r.log.Info("relay starting")

	// Confirm the socket before dialing upstream so the browser can show a
	// connecting indicator.
	if err := r.send(ctx, connectedMsg()); err != nil {
		r.setState(StateClosed)
		return err
	}

	cfg := r.sessionCfg
	cfg.Tools = dispatch.Definitions()
	sess, err := r.provider.Connect(ctx, cfg)
	if err != nil {
		_ = r.send(ctx, errorMsg("voice service is unavailable, please retry"))
		r.setState(StateClosed)
		return fmt.Errorf("relay: connect upstream: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.pumpInbound(gctx, sess) })
	g.Go(func() error { return r.pumpOutbound(gctx, sess) })
	err = g.Wait()

	r.setState(StateClosing)
	_ = sess.Close()
	// The pumps have stopped reading. Close ends the upstream receive loop,
	// which closes the event channel; drain what it had buffered so it never
	// blocks on a final send.
	audio.Drain(sess.Events())
	// Late tool results are discarded by the dispatch goroutines once the
	// pump context is gone; wait so none of them outlive the relay.
	r.toolWG.Wait()
	r.setState(StateClosed)

	switch {
	case err == nil,
		errors.Is(err, errBrowserClosed),
		errors.Is(err, errUpstreamClosed),
		errors.Is(err, context.Canceled):
		r.log.Info("relay closed", "duration", time.Since(start))
		return nil
	default:
		r.log.Warn("relay failed", "err", err, "duration", time.Since(start))
		return err
	}
}

// pumpInbound reads browser messages and forwards audio upstream. Malformed
// messages are dropped individually; only connection-level failures end the
// pump.
func (r *Relay) pumpInbound(ctx context.Context, sess upstream.SessionHandle) error {
	for {
		data, err := r.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Debug("browser read ended", "err", err)
			return errBrowserClosed
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn("dropping unparseable browser message", "err", err)
			r.metrics.RecordDroppedMessage(ctx, "malformed_json")
			continue
		}

		switch msg.Type {
		case msgTypeAudio:
			if r.Muted() {
				continue
			}
			pcm, err := audio.Decode(msg.Data)
			if err != nil {
				r.log.Warn("dropping malformed audio message", "err", err)
				r.metrics.RecordDroppedMessage(ctx, "malformed_audio")
				continue
			}
			frame := r.resampler.Convert(audio.AudioFrame{Data: pcm, SampleRate: r.clientRate})
			if err := sess.SendAudio(frame.Data); err != nil {
				return fmt.Errorf("relay: send audio upstream: %w", err)
			}
			r.metrics.RecordAudioFrame(ctx, "inbound")

		case msgTypeMute:
			r.setMuted(msg.Muted)
			r.log.Debug("mute toggled", "muted", msg.Muted)
			if err := r.send(ctx, muteStatusMsg(msg.Muted)); err != nil {
				return err
			}

		default:
			r.log.Warn("dropping browser message of unknown type", "type", msg.Type)
			r.metrics.RecordDroppedMessage(ctx, "unknown_type")
		}
	}
}

// pumpOutbound consumes the upstream event stream in strict arrival order
// and completed tool results, and drives the browser-facing side of the
// session. Audio deltas are held in the playback queue until the currently
// buffered burst of events has been processed; a speech-started event inside
// the burst therefore drops frames before they are ever written, and the
// barge-in flush happens synchronously before any later audio delta.
func (r *Relay) pumpOutbound(ctx context.Context, sess upstream.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-r.toolDone:
			if err := r.deliverToolResult(sess, res); err != nil {
				return err
			}

		case ev, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					_ = r.send(ctx, errorMsg("voice session ended unexpectedly"))
					r.metrics.UpstreamErrors.Add(ctx, 1)
					return fmt.Errorf("relay: upstream session: %w", err)
				}
				return errUpstreamClosed
			}
			if err := r.processEvent(ctx, sess, ev); err != nil {
				return err
			}
			if err := r.drainPending(ctx, sess); err != nil {
				return err
			}
			if err := r.flushPlayback(ctx); err != nil {
				return err
			}
		}
	}
}

// drainPending handles events already buffered on the session channel without
// blocking. A closed channel is left for pumpOutbound to observe.
func (r *Relay) drainPending(ctx context.Context, sess upstream.SessionHandle) error {
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			if err := r.processEvent(ctx, sess, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// processEvent flushes queued playback before any event that writes to the
// browser, preserving audio/transcript ordering. Audio deltas only queue, and
// speech-started must see the queue intact so barge-in can drop it.
func (r *Relay) processEvent(ctx context.Context, sess upstream.SessionHandle, ev upstream.Event) error {
	switch ev.Kind {
	case upstream.EventAudioDelta, upstream.EventSpeechStarted:
	default:
		if err := r.flushPlayback(ctx); err != nil {
			return err
		}
	}
	return r.handleEvent(ctx, sess, ev)
}

// flushPlayback writes all queued playback frames to the browser.
func (r *Relay) flushPlayback(ctx context.Context) error {
	for _, pcm := range r.playback.TakeAll() {
		if err := r.send(ctx, audioMsg(audio.Encode(pcm))); err != nil {
			return err
		}
		r.metrics.RecordAudioFrame(ctx, "outbound")
	}
	return nil
}

func (r *Relay) handleEvent(ctx context.Context, sess upstream.SessionHandle, ev upstream.Event) error {
	switch ev.Kind {
	case upstream.EventSessionReady:
		r.setState(StateActive)
		r.log.Info("upstream session ready")
		return r.send(ctx, statusMsg(statusReady))

	case upstream.EventSpeechStarted:
		// Barge-in: drop queued playback before anything else may be
		// forwarded, then tell the browser to do the same.
		r.setState(StateInterrupted)
		dropped := r.playback.Clear()
		r.metrics.BargeIns.Add(ctx, 1)
		r.log.Debug("barge-in", "dropped_chunks", dropped)
		if err := r.send(ctx, clearAudioMsg()); err != nil {
			return err
		}
		return r.send(ctx, statusMsg(statusListening))

	case upstream.EventSpeechStopped:
		r.setState(StateActive)
		return r.send(ctx, statusMsg(statusProcessing))

	case upstream.EventAudioDelta:
		r.playback.Append(ev.Audio)
		return nil

	case upstream.EventTranscriptDelta:
		return r.send(ctx, transcriptMsg(ev.Text))

	case upstream.EventFunctionCall:
		r.spawnToolCall(ctx, ev.Call)
		return nil

	case upstream.EventResponseDone:
		return r.send(ctx, statusMsg(statusReady))

	case upstream.EventError:
		_ = r.send(ctx, errorMsg("voice session error"))
		r.metrics.UpstreamErrors.Add(ctx, 1)
		return fmt.Errorf("relay: upstream session: %w", ev.Err)

	default:
		r.log.Warn("ignoring upstream event of unknown kind", "kind", ev.Kind)
		return nil
	}
}

// spawnToolCall executes one tool call off the pump. The result is handed
// back through toolDone; if the session closes first the result is discarded,
// which is the defined behaviour for late results.
func (r *Relay) spawnToolCall(ctx context.Context, call upstream.ToolCall) {
	r.log.Info("tool call received", "call_id", call.CallID, "tool", call.Name)
	r.toolWG.Add(1)
	go func() {
		defer r.toolWG.Done()
		start := time.Now()
		res := r.dispatcher.Dispatch(ctx, r.identity, call)

		status := "ok"
		if res.Err != nil {
			status = "error"
		}
		mctx := context.WithoutCancel(ctx)
		r.metrics.RecordToolCall(mctx, call.Name, status)
		r.metrics.ToolDispatchDuration.Record(mctx, time.Since(start).Seconds())

		if ctx.Err() != nil {
			r.log.Debug("discarding tool result for closed session", "call_id", res.CallID)
			return
		}
		select {
		case r.toolDone <- res:
		case <-ctx.Done():
			r.log.Debug("discarding tool result for closed session", "call_id", res.CallID)
		}
	}()
}

func (r *Relay) deliverToolResult(sess upstream.SessionHandle, res dispatch.Result) error {
	if err := sess.SubmitToolResult(res.CallID, res.Output); err != nil {
		return fmt.Errorf("relay: submit tool result %s: %w", res.CallID, err)
	}
	if err := sess.ResumeResponse(); err != nil {
		return fmt.Errorf("relay: resume after tool result %s: %w", res.CallID, err)
	}
	r.log.Debug("tool result delivered", "call_id", res.CallID)
	return nil
}

func (r *Relay) send(ctx context.Context, data []byte) error {
	if err := r.conn.Write(ctx, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errBrowserClosed, err)
	}
	return nil
}
