// Command voxbridge is the realtime voice relay server. It bridges browser
// WebSocket clients to an upstream speech-to-speech provider and answers the
// model's memory tool calls against a long-term memory backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/dispatch"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/internal/server"
	"github.com/voxbridge/voxbridge/pkg/memstore"
	"github.com/voxbridge/voxbridge/pkg/memstore/agentmemory"
	"github.com/voxbridge/voxbridge/pkg/memstore/postgres"
	"github.com/voxbridge/voxbridge/pkg/upstream"
	"github.com/voxbridge/voxbridge/pkg/upstream/voicelive"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A local .env is optional; environment variables set in the shell win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxbridge: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("voxbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Memory backend ────────────────────────────────────────────────────────
	store, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise memory backend", "err", err)
		return 1
	}
	guarded := resilience.Guard(store, resilience.WithMetrics(metrics))
	dispatcher := dispatch.New(guarded, dispatch.WithLogger(logger))

	// ── Upstream provider ─────────────────────────────────────────────────────
	provider := buildProvider(cfg)
	if provider == nil {
		slog.Warn("upstream endpoint or API key missing — running degraded, voice sessions disabled")
	}

	// ── Config reload watcher ─────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level updated", "log_level", diff.NewLogLevel)
		}
		if diff.SessionDefaultsChanged {
			slog.Warn("upstream session defaults changed — applies to new sessions after restart")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Health checks ─────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "upstream", Check: func(context.Context) error {
			if provider == nil {
				return errors.New("not configured")
			}
			return nil
		}},
	}
	if cfg.Memory.Enabled {
		checkers = append(checkers, health.Checker{Name: "memory", Check: func(context.Context) error {
			if guarded.Breaker().State() == resilience.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		}})
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(provider, dispatcher,
		server.WithSessionConfig(sessionConfig(cfg)),
		server.WithClientSampleRate(cfg.Audio.ClientSampleRate),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithStaticDir(cfg.Server.StaticDir),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checkers...)),
	)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, provider != nil)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}

	slog.Info("goodbye")
	return 0
}

// buildProvider constructs the Voice Live provider, or nil when the upstream
// connection is not configured (degraded mode).
func buildProvider(cfg *config.Config) upstream.Provider {
	if cfg.Upstream.Endpoint == "" || cfg.Upstream.APIKey == "" {
		return nil
	}
	var opts []voicelive.Option
	if cfg.Upstream.Model != "" {
		opts = append(opts, voicelive.WithModel(cfg.Upstream.Model))
	}
	return voicelive.New(cfg.Upstream.Endpoint, cfg.Upstream.APIKey, opts...)
}

// buildStore constructs the configured memory backend. A disabled memory
// section yields [memstore.Disabled], so tool calls still produce an answer.
func buildStore(ctx context.Context, cfg *config.Config) (memstore.Store, error) {
	if !cfg.Memory.Enabled {
		slog.Info("long-term memory disabled")
		return memstore.Disabled{}, nil
	}

	switch cfg.Memory.Backend {
	case config.BackendPostgres:
		st, err := postgres.New(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		slog.Info("memory backend ready", "backend", "postgres")
		return st, nil
	default:
		var opts []agentmemory.Option
		if cfg.Memory.Timeout > 0 {
			opts = append(opts, agentmemory.WithTimeout(cfg.Memory.Timeout.Std()))
		}
		slog.Info("memory backend ready", "backend", "agentmemory", "server_url", cfg.Memory.ServerURL)
		return agentmemory.New(cfg.Memory.ServerURL, opts...), nil
	}
}

// sessionConfig maps the upstream config section onto the session defaults
// sent to the provider on connect. Tool definitions are attached per session
// by the relay.
func sessionConfig(cfg *config.Config) upstream.SessionConfig {
	instructions := cfg.Upstream.Instructions
	if instructions == "" {
		instructions = config.DefaultInstructions
	}

	sc := upstream.SessionConfig{
		Instructions:     instructions,
		Voice:            cfg.Upstream.Voice,
		EchoCancellation: cfg.Upstream.EchoCancellation,
		NoiseReduction:   cfg.Upstream.NoiseReduction,
	}

	td := cfg.Upstream.TurnDetection
	if td.Threshold != 0 || td.PrefixPaddingMs != 0 || td.SilenceDurationMs != 0 {
		sc.TurnDetection = &upstream.TurnDetection{
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	return sc
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, upstreamReady bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxbridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Upstream", summaryUpstream(cfg, upstreamReady))
	printRow("Voice", cfg.Upstream.Voice)
	printRow("Memory", summaryMemory(cfg))
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "disabled")
	}
	if cfg.Server.StaticDir != "" {
		printRow("Static dir", cfg.Server.StaticDir)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summaryUpstream(cfg *config.Config, ready bool) string {
	if !ready {
		return "(not configured)"
	}
	if cfg.Upstream.Model != "" {
		return cfg.Upstream.Model
	}
	return "default model"
}

func summaryMemory(cfg *config.Config) string {
	if !cfg.Memory.Enabled {
		return "(disabled)"
	}
	return string(cfg.Memory.Backend)
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
