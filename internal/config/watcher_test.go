package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
)

const watcherValidYAML = `
server:
  listen_addr: ":8080"
  log_level: info
upstream:
  endpoint: "wss://demo.cognitiveservices.azure.com"
  api_key: "secret"
`

const watcherUpdatedYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
upstream:
  endpoint: "wss://demo.cognitiveservices.azure.com"
  api_key: "secret"
  voice: "en-US-AvaNeural"
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var gotDiff *config.ConfigDiff
	onChange := func(old, new *config.Config, diff config.ConfigDiff) {
		mu.Lock()
		defer mu.Unlock()
		gotDiff = &diff
	}

	w, err := config.NewWatcher(cfgPath, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Ensure a different mtime even on coarse-grained filesystems.
	time.Sleep(30 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)
	futureTime := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, futureTime, futureTime); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotDiff != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotDiff == nil {
		t.Fatal("onChange was not called after config change")
	}
	if !gotDiff.LogLevelChanged || gotDiff.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want LogLevelChanged to debug", gotDiff)
	}
	if !gotDiff.SessionDefaultsChanged {
		t.Error("voice change should set SessionDefaultsChanged")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current().Server.LogLevel = %q, want debug", got)
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	onChange := func(old, new *config.Config, diff config.ConfigDiff) {
		select {
		case called <- struct{}{}:
		default:
		}
	}

	w, err := config.NewWatcher(cfgPath, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	futureTime := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, futureTime, futureTime); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	select {
	case <-called:
		t.Fatal("onChange must not fire for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current().Server.LogLevel = %q, want previous value info", got)
	}
}
