package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan SaveFileEvent) SaveFileEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatalf("no event")
	}
	return SaveFileEvent{}
}

func TestSaveFileCollectorPicksUpExistingAndNewFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	cfg := DefaultSaveFileCollectorConfig(dir)
	cfg.Debounce = 50 * time.Millisecond

	c, err := NewSaveFileCollector(cfg)
	if err != nil {
		t.Fatalf("NewSaveFileCollector error: %v", err)
	}
	defer c.Stop()

	existing := filepath.Join(c.Dir(), "old.json")
	if err := os.WriteFile(existing, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir(), "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if evt := waitEvent(t, c.Events()); evt.Path != existing {
		t.Fatalf("path=%s, want %s", evt.Path, existing)
	}

	fresh := filepath.Join(c.Dir(), "new.JSON")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(fresh, []byte(`{"n":1}`), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if evt := waitEvent(t, c.Events()); evt.Path != fresh {
		t.Fatalf("path=%s, want %s", evt.Path, fresh)
	}

	// 多次写入只触发一次
	select {
	case evt := <-c.Events():
		t.Fatalf("unexpected extra event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSaveFileCollectorStopClosesEvents(t *testing.T) {
	c, err := NewSaveFileCollector(DefaultSaveFileCollectorConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewSaveFileCollector error: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	_ = c.Stop()
	_ = c.Stop()
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}

	unstarted, err := NewSaveFileCollector(DefaultSaveFileCollectorConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewSaveFileCollector error: %v", err)
	}
	_ = unstarted.Stop()
	if _, ok := <-unstarted.Events(); ok {
		t.Fatalf("unstarted collector channel should be closed")
	}

	if _, err := NewSaveFileCollector(&SaveFileCollectorConfig{}); err == nil {
		t.Fatalf("empty dir should be rejected")
	}
}
