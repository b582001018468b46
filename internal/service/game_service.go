package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/engine"
	"github.com/yuqie6/IdleCraft/internal/eventbus"
	"github.com/yuqie6/IdleCraft/internal/persistence"
)

// GameConfig 游戏服务配置
type GameConfig struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration // <=0 关闭自动存档
	OfflineProgress  bool
	OfflineCap       time.Duration // <=0 不设上限
}

// DefaultGameConfig 默认配置
func DefaultGameConfig() *GameConfig {
	return &GameConfig{
		TickInterval:     engine.DefaultTickInterval,
		AutosaveInterval: 30 * time.Second,
		OfflineProgress:  true,
		OfflineCap:       12 * time.Hour,
	}
}

// BootReport 启动结果
type BootReport struct {
	Loaded             bool          `json:"loaded"`              // 是否读到了存档
	SavedAt            int64         `json:"saved_at,omitempty"`  // 存档时间 (Unix ms)
	OfflineElapsed     time.Duration `json:"offline_elapsed"`     // 实际结算的离线时长
	OfflineCompletions int           `json:"offline_completions"` // 离线结算的周期数
}

// Status 服务状态
type Status struct {
	Running        bool  `json:"running"` // 驱动是否在跑
	Paused         bool  `json:"paused"`  // 模拟是否暂停
	StorageEnabled bool  `json:"storage_enabled"`
	LastSavedAt    int64 `json:"last_saved_at,omitempty"`
	Subscribers    int   `json:"subscribers"`
}

// GameService 组合根：持有引擎、存档服务、角色数据与自动存档循环
type GameService struct {
	engine *engine.Engine
	saves  *persistence.SaveService
	hub    *eventbus.Hub
	driver *engine.Driver
	cfg    *GameConfig
	now    func() time.Time

	charMu    sync.RWMutex
	character json.RawMessage

	dirty       atomic.Bool
	lastSavedAt atomic.Int64
	unsubscribe func()

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewGameService 创建游戏服务，hub 可为 nil
func NewGameService(e *engine.Engine, saves *persistence.SaveService, hub *eventbus.Hub, cfg *GameConfig) *GameService {
	if cfg == nil {
		cfg = DefaultGameConfig()
	}
	s := &GameService{
		engine: e,
		saves:  saves,
		hub:    hub,
		driver: engine.NewDriver(e, cfg.TickInterval),
		cfg:    cfg,
		now:    time.Now,
	}
	s.unsubscribe = e.Subscribe(s.onEngineChange)
	return s
}

// onEngineChange 引擎事件桥接到 hub；在引擎投递锁内执行，不得回调引擎变更方法
func (s *GameService) onEngineChange(evt engine.ChangeEvent) {
	s.dirty.Store(true)
	s.hub.Publish(eventbus.Event{Type: eventbus.TypeState, Timestamp: evt.Snapshot.Timestamp, Data: evt})
}

// Engine 引擎实例
func (s *GameService) Engine() *engine.Engine {
	return s.engine
}

// Catalog 技能目录
func (s *GameService) Catalog() *catalog.Catalog {
	return s.engine.Catalog()
}

// Hub 事件中心
func (s *GameService) Hub() *eventbus.Hub {
	return s.hub
}

// Boot 读取存档（没有则使用默认状态），并结算离线期间的进度
func (s *GameService) Boot(ctx context.Context) (*BootReport, error) {
	report := &BootReport{}
	rec := s.saves.Load(ctx)
	if rec == nil {
		s.engine.Reset()
		s.setCharacter(nil)
		slog.Info("未找到有效存档，开始新游戏")
		return report, nil
	}

	s.engine.Restore(rec.Snapshot())
	s.setCharacter(rec.Character)
	report.Loaded = true
	report.SavedAt = rec.Timestamp
	s.lastSavedAt.Store(rec.Timestamp)

	if s.cfg.OfflineProgress && rec.Running() && rec.Timestamp > 0 {
		elapsed := s.now().Sub(time.UnixMilli(rec.Timestamp))
		if s.cfg.OfflineCap > 0 && elapsed > s.cfg.OfflineCap {
			elapsed = s.cfg.OfflineCap
		}
		if elapsed > 0 {
			report.OfflineElapsed = elapsed
			report.OfflineCompletions = s.engine.Tick(elapsed)
		}
	}
	slog.Info("存档已加载",
		"saved_at", rec.Timestamp,
		"offline_elapsed", report.OfflineElapsed,
		"offline_completions", report.OfflineCompletions,
	)
	return report, nil
}

// Start 启动时钟驱动与自动存档
func (s *GameService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("启动引擎驱动失败: %w", err)
	}
	s.running.Store(true)
	s.stopChan = make(chan struct{})

	if s.cfg.AutosaveInterval > 0 && s.saves.Enabled() {
		s.wg.Add(1)
		go s.autosaveLoop(ctx, s.stopChan)
	}
	slog.Info("游戏服务启动", "autosave_interval", s.cfg.AutosaveInterval)
	return nil
}

// Stop 停止驱动与自动存档，并做最后一次存档
func (s *GameService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return nil
	}

	slog.Info("正在停止游戏服务...")
	s.driver.Stop()
	close(s.stopChan)
	s.wg.Wait()
	s.running.Store(false)

	// 最终存档使用独立 ctx，外部 cancel 不影响落盘
	if s.saves.Enabled() {
		if _, err := s.SaveNow(context.Background()); err != nil {
			slog.Error("退出前存档失败", "error", err)
			return err
		}
	}
	slog.Info("游戏服务已停止")
	return nil
}

// Close 停止服务并取消引擎订阅
func (s *GameService) Close() error {
	err := s.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return err
}

func (s *GameService) autosaveLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.dirty.Load() {
				continue
			}
			if _, err := s.SaveNow(ctx); err != nil {
				slog.Warn("自动存档失败", "error", err)
			}
		}
	}
}

// SaveNow 立即写入主存档
func (s *GameService) SaveNow(ctx context.Context) (*persistence.SaveRecord, error) {
	s.dirty.Store(false)
	rec, err := s.saves.Save(ctx, s.engine.Snapshot(), s.Character())
	if err != nil {
		s.dirty.Store(true)
		return nil, err
	}
	s.lastSavedAt.Store(rec.Timestamp)
	s.hub.Publish(eventbus.Event{Type: eventbus.TypeSaved, Data: map[string]any{"timestamp": rec.Timestamp}})
	return rec, nil
}

// Reload 从主存档重新载入，不结算离线进度
func (s *GameService) Reload(ctx context.Context) error {
	rec := s.saves.Load(ctx)
	if rec == nil {
		return persistence.ErrNoSave
	}
	s.apply(rec)
	return nil
}

func (s *GameService) apply(rec *persistence.SaveRecord) {
	s.engine.Restore(rec.Snapshot())
	s.setCharacter(rec.Character)
	s.lastSavedAt.Store(rec.Timestamp)
	s.dirty.Store(false)
}

// Import 导入存档。校验失败时存储与引擎都保持不变。
func (s *GameService) Import(ctx context.Context, r io.Reader) (*persistence.SaveRecord, error) {
	var (
		rec *persistence.SaveRecord
		err error
	)
	if s.saves.Enabled() {
		rec, err = s.saves.Import(ctx, r)
	} else {
		rec, err = persistence.ParseImport(ctx, r)
		if err == nil && ctx.Err() != nil {
			err = &persistence.ImportError{Reason: "已取消", Err: ctx.Err()}
		}
	}
	if err != nil {
		s.hub.Publish(eventbus.Event{Type: eventbus.TypeImportErr, Data: map[string]any{"error": err.Error()}})
		return nil, err
	}
	s.apply(rec)
	s.hub.Publish(eventbus.Event{Type: eventbus.TypeImported, Data: map[string]any{"timestamp": rec.Timestamp}})
	return rec, nil
}

// ImportFile 从文件导入
func (s *GameService) ImportFile(ctx context.Context, path string) (*persistence.SaveRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &persistence.ImportError{Reason: "打开文件失败", Err: err}
	}
	defer f.Close()
	rec, err := s.Import(ctx, f)
	if err != nil {
		return nil, err
	}
	slog.Info("已从文件导入存档", "path", path)
	return rec, nil
}

// Export 导出当前状态；存储可用时先落盘再导出
func (s *GameService) Export(ctx context.Context, w io.Writer) error {
	if !s.saves.Enabled() {
		rec := persistence.FromSnapshot(s.engine.Snapshot(), s.Character())
		return persistence.WriteRecord(w, rec)
	}
	if _, err := s.SaveNow(ctx); err != nil {
		return err
	}
	return s.saves.Export(ctx, w)
}

// NewGame 清空全部存档并重置引擎
func (s *GameService) NewGame(ctx context.Context) error {
	if err := s.saves.ClearAll(ctx); err != nil && !errors.Is(err, persistence.ErrStorageDisabled) {
		return fmt.Errorf("清空存档失败: %w", err)
	}
	s.engine.Reset()
	s.setCharacter(nil)
	s.lastSavedAt.Store(0)
	if s.saves.Enabled() {
		if _, err := s.SaveNow(ctx); err != nil {
			return err
		}
	}
	slog.Info("已开始新游戏")
	return nil
}

// CreateBackup 先存档再备份
func (s *GameService) CreateBackup(ctx context.Context, label string) (*persistence.BackupInfo, error) {
	if _, err := s.SaveNow(ctx); err != nil {
		return nil, err
	}
	return s.saves.CreateBackup(ctx, label)
}

// ListBackups 备份列表，新的在前
func (s *GameService) ListBackups(ctx context.Context) []persistence.BackupInfo {
	return s.saves.ListBackups(ctx)
}

// RestoreBackup 用备份覆盖主存档并载入引擎
func (s *GameService) RestoreBackup(ctx context.Context, key string) (*persistence.SaveRecord, error) {
	rec, err := s.saves.LoadBackup(ctx, key)
	if err != nil {
		return nil, err
	}
	s.apply(rec)
	return rec, nil
}

// DeleteBackup 删除备份
func (s *GameService) DeleteBackup(ctx context.Context, key string) error {
	return s.saves.DeleteBackup(ctx, key)
}

// Corruption 损坏的存档槽
func (s *GameService) Corruption(ctx context.Context) []persistence.CorruptEntry {
	return s.saves.DetectCorruption(ctx)
}

// Character 角色数据（不透明 JSON）
func (s *GameService) Character() json.RawMessage {
	s.charMu.RLock()
	defer s.charMu.RUnlock()
	if s.character == nil {
		return nil
	}
	return append(json.RawMessage(nil), s.character...)
}

// SetCharacter 替换角色数据，必须是合法 JSON
func (s *GameService) SetCharacter(raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return fmt.Errorf("角色数据不是合法 JSON")
	}
	s.setCharacter(raw)
	s.dirty.Store(true)
	return nil
}

func (s *GameService) setCharacter(raw json.RawMessage) {
	s.charMu.Lock()
	defer s.charMu.Unlock()
	if len(raw) == 0 {
		s.character = nil
		return
	}
	// 导出时会重新缩进，统一压缩后保存
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		s.character = append(json.RawMessage(nil), raw...)
		return
	}
	s.character = buf.Bytes()
}

// Status 服务状态
func (s *GameService) Status() Status {
	return Status{
		Running:        s.running.Load(),
		Paused:         !s.engine.IsRunning(),
		StorageEnabled: s.saves.Enabled(),
		LastSavedAt:    s.lastSavedAt.Load(),
		Subscribers:    s.hub.Subscribers(),
	}
}
