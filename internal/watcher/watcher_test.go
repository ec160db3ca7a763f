package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/growgrammers/authflow/internal/config"
)

const baseConfig = `api-base-url: https://api.example.com
refresh:
  interval: 60s
  threshold: 5m
`

func TestWatcherReloadsChangedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(baseConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	reloaded := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(_, updated *config.Config) { reloaded <- updated })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.SetConfig(initial)
	if err = w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	if err = os.WriteFile(path, []byte(`api-base-url: https://api.example.com
debug: true
refresh:
  interval: 30s
  threshold: 10m
`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if !cfg.Debug || cfg.Refresh.Interval != 30*time.Second || cfg.Refresh.Threshold != 10*time.Minute {
			t.Fatalf("reloaded config = %+v", cfg)
		}
		if w.Config() != cfg {
			t.Fatal("watcher must expose the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(baseConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, _ := config.LoadConfig(path)
	w, err := NewWatcher(path, func(_, _ *config.Config) { t.Error("callback must not run for an invalid config") })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.Stop() }()
	w.SetConfig(initial)

	if err = os.WriteFile(path, []byte("refresh:\n  interval: 10s\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if w.reloadConfig() {
		t.Fatal("config without api-base-url must be rejected")
	}
	if w.Config() != initial {
		t.Fatal("previous config must stay active")
	}
}

func TestChangeDetails(t *testing.T) {
	t.Parallel()
	oldCfg := &config.Config{}
	oldCfg.ApplyDefaults()
	newCfg := *oldCfg
	newCfg.Debug = true
	newCfg.Refresh.Threshold = 2 * time.Minute
	newCfg.Port = 9999

	if got := changeDetails(oldCfg, &newCfg); len(got) != 2 {
		t.Fatalf("changeDetails = %v", got)
	}
	if got := restartOnlyChanges(oldCfg, &newCfg); len(got) != 1 || got[0] != "host/port" {
		t.Fatalf("restartOnlyChanges = %v", got)
	}
}
