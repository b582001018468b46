package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SaveFileEvent 收件箱中出现了一个待导入的存档文件
type SaveFileEvent struct {
	Path       string
	DetectedAt time.Time
}

// SaveFileCollector 监控导入收件箱目录，文件写入静默 debounce 后发出事件
type SaveFileCollector struct {
	watcher     *fsnotify.Watcher
	dir         string
	extensions  map[string]bool
	eventChan   chan SaveFileEvent
	stopChan    chan struct{}
	running     bool
	started     bool
	mu          sync.Mutex
	stopOnce    sync.Once
	timers      map[string]*time.Timer // 防抖：file -> 待触发的定时器
	debounceDur time.Duration
	wg          sync.WaitGroup
}

// SaveFileCollectorConfig 配置
type SaveFileCollectorConfig struct {
	Dir        string        // 收件箱目录，不存在时自动创建
	Extensions []string      // 接受的扩展名
	BufferSize int           // 事件缓冲区大小
	Debounce   time.Duration // 最后一次写入后等待的时间
}

// DefaultSaveFileCollectorConfig 默认配置
func DefaultSaveFileCollectorConfig(dir string) *SaveFileCollectorConfig {
	return &SaveFileCollectorConfig{
		Dir:        dir,
		Extensions: []string{".json"},
		BufferSize: 16,
		Debounce:   500 * time.Millisecond,
	}
}

// NewSaveFileCollector 创建收件箱采集器
func NewSaveFileCollector(cfg *SaveFileCollectorConfig) (*SaveFileCollector, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("收件箱目录不能为空")
	}
	absDir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("获取绝对路径失败: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建收件箱目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("监控收件箱失败: %w", err)
	}

	extMap := make(map[string]bool)
	for _, ext := range cfg.Extensions {
		extMap[strings.ToLower(ext)] = true
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 16
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &SaveFileCollector{
		watcher:     watcher,
		dir:         absDir,
		extensions:  extMap,
		eventChan:   make(chan SaveFileEvent, bufferSize),
		stopChan:    make(chan struct{}),
		timers:      make(map[string]*time.Timer),
		debounceDur: debounce,
	}, nil
}

// Dir 收件箱绝对路径
func (c *SaveFileCollector) Dir() string {
	return c.dir
}

// Start 启动监控，并把启动前已存在的文件排入队列。只能启动一次。
func (c *SaveFileCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.started = true
	c.mu.Unlock()
	slog.Info("存档收件箱启动", "dir", c.dir)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		slog.Warn("读取收件箱失败", "dir", c.dir, "error", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			c.schedule(filepath.Join(c.dir, entry.Name()))
		}
	}

	c.wg.Add(1)
	go c.watchLoop(ctx)
	return nil
}

// Stop 停止监控并关闭事件通道
func (c *SaveFileCollector) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		c.started = true
		c.running = false
		for path, t := range c.timers {
			t.Stop()
			delete(c.timers, path)
		}
		c.mu.Unlock()

		close(c.stopChan)
		_ = c.watcher.Close()
		c.wg.Wait()
		if !started {
			close(c.eventChan)
		}
		slog.Info("存档收件箱已停止")
	})
	return nil
}

// Events 返回事件通道，Stop 后关闭
func (c *SaveFileCollector) Events() <-chan SaveFileEvent {
	return c.eventChan
}

func (c *SaveFileCollector) watchLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		for path, t := range c.timers {
			t.Stop()
			delete(c.timers, path)
		}
		c.mu.Unlock()
		close(c.eventChan)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				c.schedule(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("收件箱监控错误", "error", err)
		}
	}
}

// schedule 重置文件的防抖定时器
func (c *SaveFileCollector) schedule(path string) {
	if !c.extensions[strings.ToLower(filepath.Ext(path))] {
		return
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if t, ok := c.timers[path]; ok {
		t.Reset(c.debounceDur)
		return
	}
	c.timers[path] = time.AfterFunc(c.debounceDur, func() { c.fire(path) })
}

func (c *SaveFileCollector) fire(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	delete(c.timers, path)

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}
	select {
	case c.eventChan <- SaveFileEvent{Path: path, DetectedAt: time.Now()}:
		slog.Debug("收件箱发现存档文件", "path", path)
	default:
		slog.Warn("收件箱缓冲区已满，丢弃事件", "path", path)
	}
}
