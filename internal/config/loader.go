package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by [ApplyEnv]. Secrets are commonly
// injected this way instead of being written into the config file.
const (
	EnvUpstreamAPIKey  = "VOXBRIDGE_UPSTREAM_API_KEY"
	EnvMemoryServerURL = "VOXBRIDGE_MEMORY_SERVER_URL"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// Environment overrides from [ApplyEnv] are applied before validation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
// Environment overrides are NOT applied; use [ApplyEnv] explicitly if needed.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides secret-bearing fields from the process environment.
// Environment values take precedence over file values.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvUpstreamAPIKey); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvMemoryServerURL); v != "" {
		cfg.Memory.ServerURL = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Upstream — a missing endpoint or key is not an error: the server runs
	// in a degraded mode that rejects voice sessions with a clear message.
	if cfg.Upstream.Endpoint == "" || cfg.Upstream.APIKey == "" {
		slog.Warn("upstream endpoint or API key not configured; voice sessions will be unavailable")
	}
	td := cfg.Upstream.TurnDetection
	if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("upstream.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if td.PrefixPaddingMs < 0 {
		errs = append(errs, fmt.Errorf("upstream.turn_detection.prefix_padding_ms %d must not be negative", td.PrefixPaddingMs))
	}
	if td.SilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("upstream.turn_detection.silence_duration_ms %d must not be negative", td.SilenceDurationMs))
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: agentmemory, postgres", cfg.Memory.Backend))
	}
	if cfg.Memory.Enabled {
		switch cfg.Memory.Backend {
		case BackendPostgres:
			if cfg.Memory.PostgresDSN == "" {
				errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
			}
		case BackendAgentMemory, "":
			if cfg.Memory.ServerURL == "" {
				errs = append(errs, errors.New("memory.server_url is required when memory is enabled with the agentmemory backend"))
			}
		}
	}
	if cfg.Memory.Timeout < 0 {
		errs = append(errs, fmt.Errorf("memory.timeout %s must not be negative", cfg.Memory.Timeout.Std()))
	}

	// Audio
	if r := cfg.Audio.ClientSampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.client_sample_rate %d is out of range [8000, 192000]", r))
	}

	return errors.Join(errs...)
}
