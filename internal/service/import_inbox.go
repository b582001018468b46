package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	inboxImportedDir = "imported"
	inboxRejectedDir = "rejected"
)

// ImportInboxService 消费收件箱事件并导入；成功的文件移入 imported/，失败的移入 rejected/
type ImportInboxService struct {
	source   SaveFileSource
	importer FileImporter
	dir      string

	imported atomic.Int64
	rejected atomic.Int64
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewImportInboxService 创建收件箱导入服务
func NewImportInboxService(source SaveFileSource, importer FileImporter, dir string) *ImportInboxService {
	return &ImportInboxService{source: source, importer: importer, dir: dir}
}

// Start 启动
func (s *ImportInboxService) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}
	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("启动收件箱失败: %w", err)
	}
	s.running.Store(true)

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop 停止并等待正在进行的导入结束
func (s *ImportInboxService) Stop() error {
	if !s.running.Load() {
		return nil
	}
	_ = s.source.Stop()
	s.wg.Wait()
	s.running.Store(false)
	slog.Info("收件箱导入服务已停止", "imported", s.imported.Load(), "rejected", s.rejected.Load())
	return nil
}

// Stats 已导入与已拒绝的文件数
func (s *ImportInboxService) Stats() (imported, rejected int64) {
	return s.imported.Load(), s.rejected.Load()
}

func (s *ImportInboxService) loop(ctx context.Context) {
	defer s.wg.Done()
	for evt := range s.source.Events() {
		if ctx.Err() != nil {
			return
		}
		s.handle(ctx, evt.Path)
	}
}

func (s *ImportInboxService) handle(ctx context.Context, path string) {
	_, err := s.importer.ImportFile(ctx, path)
	target := inboxImportedDir
	if err != nil {
		target = inboxRejectedDir
		s.rejected.Add(1)
		slog.Warn("收件箱存档被拒绝", "path", path, "error", err)
	} else {
		s.imported.Add(1)
	}
	if err := moveInto(filepath.Join(s.dir, target), path); err != nil {
		slog.Warn("移动收件箱文件失败", "path", path, "error", err)
	}
}

func moveInto(dir, path string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s_%d%s", dst[:len(dst)-len(ext)], time.Now().UnixNano(), ext)
	}
	return os.Rename(path, dst)
}
