// Package server accepts browser connections and manages the lifecycle of
// their relays. It owns the HTTP router, the WebSocket endpoint, and the
// registry of active sessions; each accepted connection gets exactly one
// [relay.Relay], torn down when the connection ends.
package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge/voxbridge/internal/dispatch"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/relay"
	"github.com/voxbridge/voxbridge/pkg/upstream"
)

// Server handles HTTP and WebSocket traffic for the relay service.
type Server struct {
	provider   upstream.Provider
	dispatcher *dispatch.Dispatcher
	sessionCfg upstream.SessionConfig
	clientRate int

	allowedOrigins []string
	staticDir      string
	log            *slog.Logger
	metrics        *observe.Metrics
	health         *health.Handler

	mu     sync.Mutex
	relays map[string]*relay.Relay
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithSessionConfig sets the upstream session configuration applied to every
// new relay.
func WithSessionConfig(cfg upstream.SessionConfig) Option {
	return func(s *Server) { s.sessionCfg = cfg }
}

// WithClientSampleRate sets the sample rate of browser-captured audio.
func WithClientSampleRate(rate int) Option {
	return func(s *Server) { s.clientRate = rate }
}

// WithAllowedOrigins sets the origins permitted to open WebSocket
// connections. "*" allows any origin; empty allows same-origin only.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithStaticDir serves the given directory of frontend assets at the root
// path. Empty disables static serving.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics instance. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealth sets the health handler serving /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// New creates a server. A nil provider puts the server in a degraded mode:
// HTTP endpoints work but voice connections are rejected with an explanatory
// message.
func New(provider upstream.Provider, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		provider:   provider,
		dispatcher: dispatcher,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		health:     health.New(),
		relays:     make(map[string]*relay.Relay),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router: the WebSocket endpoint at /ws, health
// probes, Prometheus metrics, and optional static assets at the root.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

// ActiveSessions returns the number of currently registered relays.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.relays)
}

func (s *Server) register(r *relay.Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relays[r.ID()] = r
}

func (s *Server) unregister(r *relay.Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relays, r.ID())
}
