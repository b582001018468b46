package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.App.Name != "idlecraft" || cfg.Engine.TickIntervalMs != 250 || !cfg.Engine.OfflineProgress {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Storage.KeyPrefix != "idlecraft" || cfg.Autosave.Interval() != 30*time.Second {
		t.Fatalf("storage=%+v autosave=%+v", cfg.Storage, cfg.Autosave)
	}
	if cfg.Engine.OfflineCap() != 12*time.Hour || cfg.Import.Debounce() != 500*time.Millisecond {
		t.Fatalf("engine=%+v import=%+v", cfg.Engine, cfg.Import)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestWriteFileThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config", "config.yaml")

	cfg := Default()
	cfg.Engine.TickIntervalMs = 100
	cfg.Engine.Seed = 42
	cfg.Storage.DBPath = filepath.Join(dir, "game.db")
	cfg.HTTP.Enabled = false
	if err := WriteFile(path, cfg); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Engine.TickIntervalMs != 100 || got.Engine.Seed != 42 || got.HTTP.Enabled {
		t.Fatalf("got=%+v", got)
	}
	if got.Storage.DBPath != cfg.Storage.DBPath {
		t.Fatalf("db_path=%s", got.Storage.DBPath)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := WriteFile(path, Default()); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	t.Setenv("IDLECRAFT_AUTOSAVE_INTERVAL_SEC", "5")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Autosave.IntervalSec != 5 {
		t.Fatalf("interval=%d, want 5", got.Autosave.IntervalSec)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := Default()
	cfg.Engine.TickIntervalMs = 1
	if err := WriteFile(path, cfg); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("tiny tick interval should be rejected")
	}
	if _, err := Load(filepath.Join(dir, "broken.yaml")); err == nil {
		t.Fatalf("missing explicit config file should fail")
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "idlecraft.log")
	closer, err := SetupLogger(LoggerOptions{Level: "debug", Path: path, Component: "test"})
	if err != nil {
		t.Fatalf("SetupLogger error: %v", err)
	}
	slog.Debug("日志测试")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("log file empty")
	}
	if ParseLevel("nope") != slog.LevelInfo || ParseLevel("WARN") != slog.LevelWarn {
		t.Fatalf("ParseLevel mismatch")
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := WriteFile(path, Default()); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	// 覆盖写
	if err := WriteFile(path, Default()); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries=%v err=%v, want only config.yaml", entries, err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !strings.HasPrefix(string(b), "# IdleCraft") || !strings.Contains(string(b), "tick_interval_ms:") {
		t.Fatalf("unexpected config file:\n%s", b)
	}
	if err := WriteFile("", Default()); err == nil {
		t.Fatalf("empty path should fail")
	}
}
