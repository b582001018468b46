package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yuqie6/IdleCraft/internal/collector"
	"github.com/yuqie6/IdleCraft/internal/persistence"
)

type fakeSaveFileSource struct {
	ch   chan collector.SaveFileEvent
	once sync.Once
}

func (f *fakeSaveFileSource) Start(ctx context.Context) error { return nil }
func (f *fakeSaveFileSource) Stop() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}
func (f *fakeSaveFileSource) Events() <-chan collector.SaveFileEvent { return f.ch }

type fakeFileImporter struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeFileImporter) ImportFile(ctx context.Context, path string) (*persistence.SaveRecord, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	if strings.Contains(path, "bad") {
		return nil, &persistence.ImportError{Reason: "格式无效", Err: errors.New("boom")}
	}
	return &persistence.SaveRecord{}, nil
}

func TestImportInboxMovesFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	for _, p := range []string{good, bad} {
		if err := os.WriteFile(p, []byte(`{}`), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	src := &fakeSaveFileSource{ch: make(chan collector.SaveFileEvent, 2)}
	imp := &fakeFileImporter{}
	svc := NewImportInboxService(src, imp, dir)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	src.ch <- collector.SaveFileEvent{Path: good}
	src.ch <- collector.SaveFileEvent{Path: bad}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	imported, rejected := svc.Stats()
	if imported != 1 || rejected != 1 {
		t.Fatalf("imported=%d rejected=%d", imported, rejected)
	}
	if _, err := os.Stat(filepath.Join(dir, "imported", "good.json")); err != nil {
		t.Fatalf("good file not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "rejected", "bad.json")); err != nil {
		t.Fatalf("bad file not moved: %v", err)
	}
	if _, err := os.Stat(good); !os.IsNotExist(err) {
		t.Fatalf("good file still in inbox")
	}
}
