package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/yuqie6/IdleCraft/internal/engine"
	"github.com/yuqie6/IdleCraft/internal/schema"
)

const (
	// DefaultKeyPrefix 默认存档键前缀
	DefaultKeyPrefix = "idlecraft"
	// DefaultBackupCacheSize 备份解析缓存容量
	DefaultBackupCacheSize = 64
	// MaxImportBytes 导入文件大小上限
	MaxImportBytes = 8 << 20
)

var (
	// ErrStorageDisabled 存储不可用（未配置或安全模式）
	ErrStorageDisabled = errors.New("存储不可用")
	// ErrNoSave 尚无主存档
	ErrNoSave = errors.New("没有可用的存档")
	// ErrBackupNotFound 备份不存在或不属于本游戏
	ErrBackupNotFound = errors.New("备份不存在")
)

// ImportError 导入被拒绝的原因；导入失败时存储与引擎都不受影响
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("导入存档失败: %s: %v", e.Reason, e.Err)
	}
	return "导入存档失败: " + e.Reason
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// SlotStore 存档槽存储，由 repository.SaveSlotRepository 实现
type SlotStore interface {
	Get(ctx context.Context, key string) (*schema.SaveSlot, error)
	Put(ctx context.Context, slot *schema.SaveSlot) error
	Delete(ctx context.Context, key string) (bool, error)
	ListByPrefix(ctx context.Context, prefix string) ([]schema.SaveSlot, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// BackupInfo 备份列表项
type BackupInfo struct {
	Key         string `json:"key"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
	Valid       bool   `json:"valid"`
}

// CorruptEntry 无法解析的存档槽
type CorruptEntry struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// SaveConfig 存档服务配置
type SaveConfig struct {
	KeyPrefix       string
	BackupCacheSize int
}

// SaveService 持久化层：主存档、备份、损坏检测与导入导出。
// store 为 nil 时所有操作降级为“无存档 / 空列表”。
type SaveService struct {
	store  SlotStore
	prefix string
	cache  *lru.Cache
	now    func() time.Time
}

// NewSaveService 创建存档服务
func NewSaveService(store SlotStore, cfg SaveConfig) *SaveService {
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.KeyPrefix), "_")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	size := cfg.BackupCacheSize
	if size <= 0 {
		size = DefaultBackupCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		slog.Warn("创建备份缓存失败，将不使用缓存", "error", err)
	}
	return &SaveService{store: store, prefix: prefix, cache: cache, now: time.Now}
}

// Enabled 存储是否可用
func (s *SaveService) Enabled() bool {
	return s != nil && s.store != nil
}

// PrimaryKey 主存档键
func (s *SaveService) PrimaryKey() string {
	return s.prefix + "_save"
}

func (s *SaveService) gamePrefix() string {
	return s.prefix + "_"
}

func (s *SaveService) backupPrefix() string {
	return s.prefix + "_backup_"
}

func (s *SaveService) newBackupKey(ts int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return s.backupPrefix() + strconv.FormatInt(ts, 10) + "_" + suffix
}

// Save 写入主存档并返回写入的记录
func (s *SaveService) Save(ctx context.Context, snap engine.Snapshot, character json.RawMessage) (*SaveRecord, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	rec := FromSnapshot(snap, character)
	rec.Timestamp = s.now().UnixMilli()
	if err := s.putPrimary(ctx, rec); err != nil {
		return nil, err
	}
	slog.Debug("存档已写入", "key", s.PrimaryKey(), "skills", len(rec.Skills))
	return rec, nil
}

func (s *SaveService) putPrimary(ctx context.Context, rec *SaveRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, &schema.SaveSlot{
		Key:         s.PrimaryKey(),
		Kind:        schema.SlotKindPrimary,
		Payload:     string(data),
		Description: rec.Description,
		Timestamp:   rec.Timestamp,
	})
}

// Load 读取主存档；不存在、存储不可用或内容损坏时返回 nil
func (s *SaveService) Load(ctx context.Context) *SaveRecord {
	if !s.Enabled() {
		return nil
	}
	slot, err := s.store.Get(ctx, s.PrimaryKey())
	if err != nil {
		slog.Warn("读取存档失败，按无存档处理", "error", err)
		return nil
	}
	if slot == nil {
		return nil
	}
	rec, err := Decode([]byte(slot.Payload))
	if err != nil {
		slog.Warn("存档已损坏，按无存档处理", "key", slot.Key, "error", err)
		return nil
	}
	return rec
}

// CreateBackup 将当前主存档复制为带标签的备份
func (s *SaveService) CreateBackup(ctx context.Context, label string) (*BackupInfo, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	rec := s.Load(ctx)
	if rec == nil {
		return nil, ErrNoSave
	}

	ts := s.now().UnixMilli()
	rec.Description = strings.TrimSpace(label)
	if rec.Description == "" {
		rec.Description = "手动备份 " + time.UnixMilli(ts).Format("2006-01-02 15:04:05")
	}
	data, err := Encode(rec)
	if err != nil {
		return nil, err
	}
	key := s.newBackupKey(ts)
	if err := s.store.Put(ctx, &schema.SaveSlot{
		Key:         key,
		Kind:        schema.SlotKindBackup,
		Payload:     string(data),
		Description: rec.Description,
		Timestamp:   ts,
	}); err != nil {
		return nil, fmt.Errorf("创建备份失败: %w", err)
	}
	s.cacheAdd(key, rec)

	slog.Info("已创建备份", "key", key, "description", rec.Description)
	return &BackupInfo{Key: key, Timestamp: ts, Description: rec.Description, Valid: true}, nil
}

// ListBackups 列出备份，按时间倒序；失败时返回空列表
func (s *SaveService) ListBackups(ctx context.Context) []BackupInfo {
	out := []BackupInfo{}
	if !s.Enabled() {
		return out
	}
	slots, err := s.store.ListByPrefix(ctx, s.backupPrefix())
	if err != nil {
		slog.Warn("列出备份失败", "error", err)
		return out
	}
	for _, slot := range slots {
		_, perr := s.parseBackup(slot)
		out = append(out, BackupInfo{
			Key:         slot.Key,
			Timestamp:   slot.Timestamp,
			Description: slot.Description,
			Valid:       perr == nil,
		})
	}
	return out
}

// LoadBackup 读取备份并覆盖主存档
func (s *SaveService) LoadBackup(ctx context.Context, key string) (*SaveRecord, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	if !strings.HasPrefix(key, s.backupPrefix()) {
		return nil, ErrBackupNotFound
	}
	slot, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("读取备份失败: %w", err)
	}
	if slot == nil {
		return nil, ErrBackupNotFound
	}
	rec, err := s.parseBackup(*slot)
	if err != nil {
		return nil, fmt.Errorf("备份已损坏: %w", err)
	}
	if err := s.putPrimary(ctx, rec); err != nil {
		return nil, fmt.Errorf("恢复备份失败: %w", err)
	}
	slog.Info("已从备份恢复主存档", "key", key)
	return rec.Clone(), nil
}

// DeleteBackup 删除单个备份
func (s *SaveService) DeleteBackup(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrStorageDisabled
	}
	if !strings.HasPrefix(key, s.backupPrefix()) {
		return ErrBackupNotFound
	}
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	s.cacheRemove(key)
	if !deleted {
		return ErrBackupNotFound
	}
	slog.Info("已删除备份", "key", key)
	return nil
}

// DetectCorruption 扫描所有本游戏的存档槽，返回无法解析的项。尽力而为，失败时返回空列表。
func (s *SaveService) DetectCorruption(ctx context.Context) []CorruptEntry {
	out := []CorruptEntry{}
	if !s.Enabled() {
		return out
	}
	slots, err := s.store.ListByPrefix(ctx, s.gamePrefix())
	if err != nil {
		slog.Warn("损坏检测读取失败", "error", err)
		return out
	}
	for _, slot := range slots {
		if _, err := Decode([]byte(slot.Payload)); err != nil {
			out = append(out, CorruptEntry{Key: slot.Key, Kind: slot.Kind, Error: err.Error()})
		}
	}
	if len(out) > 0 {
		slog.Warn("检测到损坏的存档", "count", len(out))
	}
	return out
}

// ClearAll 删除主存档与全部备份
func (s *SaveService) ClearAll(ctx context.Context) error {
	if !s.Enabled() {
		return ErrStorageDisabled
	}
	n, err := s.store.DeleteByPrefix(ctx, s.gamePrefix())
	if err != nil {
		return err
	}
	s.cachePurge()
	slog.Info("已清空全部存档", "deleted", n)
	return nil
}

// Export 将主存档以缩进 JSON 写出
func (s *SaveService) Export(ctx context.Context, w io.Writer) error {
	if !s.Enabled() {
		return ErrStorageDisabled
	}
	rec := s.Load(ctx)
	if rec == nil {
		return ErrNoSave
	}
	return WriteRecord(w, rec)
}

// WriteRecord 以缩进 JSON 写出存档
func WriteRecord(w io.Writer, rec *SaveRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("导出存档失败: %w", err)
	}
	return nil
}

// ParseImport 读取并校验导入内容，不写入存储
func ParseImport(ctx context.Context, r io.Reader) (*SaveRecord, error) {
	data, err := io.ReadAll(io.LimitReader(&ctxReader{ctx: ctx, r: r}, MaxImportBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ImportError{Reason: "已取消", Err: ctx.Err()}
		}
		return nil, &ImportError{Reason: "读取失败", Err: err}
	}
	if len(data) > MaxImportBytes {
		return nil, &ImportError{Reason: "文件过大"}
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, &ImportError{Reason: "格式无效", Err: err}
	}
	return rec, nil
}

// Import 校验并写入为主存档；任一步失败时原存档保持不变
func (s *SaveService) Import(ctx context.Context, r io.Reader) (*SaveRecord, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	rec, err := ParseImport(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &ImportError{Reason: "已取消", Err: err}
	}
	if err := s.putPrimary(ctx, rec); err != nil {
		return nil, &ImportError{Reason: "写入失败", Err: err}
	}
	slog.Info("已导入存档", "version", rec.Version, "skills", len(rec.Skills))
	return rec.Clone(), nil
}

func (s *SaveService) parseBackup(slot schema.SaveSlot) (*SaveRecord, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(slot.Key); ok {
			return v.(*SaveRecord).Clone(), nil
		}
	}
	rec, err := Decode([]byte(slot.Payload))
	if err != nil {
		return nil, err
	}
	s.cacheAdd(slot.Key, rec)
	return rec, nil
}

func (s *SaveService) cacheAdd(key string, rec *SaveRecord) {
	if s.cache != nil {
		s.cache.Add(key, rec.Clone())
	}
}

func (s *SaveService) cacheRemove(key string) {
	if s.cache != nil {
		s.cache.Remove(key)
	}
}

func (s *SaveService) cachePurge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// ctxReader 每次读取前检查 ctx
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
