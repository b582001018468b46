package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval 默认 tick 间隔
const DefaultTickInterval = 250 * time.Millisecond

// Driver 时钟驱动：按固定间隔测量真实流逝时间并推进引擎。
// 暂停期间参考时间照常前移，恢复后不会补发暂停期间的时间。
type Driver struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewDriver 创建驱动，interval<=0 时使用默认值
func NewDriver(e *Engine, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Driver{engine: e, interval: interval, now: e.now}
}

// Running 驱动是否在运行
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Start 启动 tick 循环，ctx 取消或 Stop 时退出
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return nil
	}
	d.running.Store(true)
	d.stopChan = make(chan struct{})

	slog.Info("引擎驱动启动", "interval", d.interval)
	d.wg.Add(1)
	go d.loop(ctx, d.stopChan)
	return nil
}

// Stop 停止 tick 循环并等待退出
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	close(d.stopChan)
	d.wg.Wait()
	d.running.Store(false)
	slog.Info("引擎驱动已停止")
}

func (d *Driver) loop(ctx context.Context, stop <-chan struct{}) {
	defer d.wg.Done()
	defer d.running.Store(false)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	last := d.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			now := d.now()
			elapsed := now.Sub(last)
			last = now
			d.engine.Tick(elapsed)
		}
	}
}
