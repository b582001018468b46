package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yuqie6/IdleCraft/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveSlotRepository 存档槽仓储
type SaveSlotRepository struct {
	db *gorm.DB
}

// NewSaveSlotRepository 创建仓储
func NewSaveSlotRepository(db *gorm.DB) *SaveSlotRepository {
	return &SaveSlotRepository{db: db}
}

// Get 按键读取，不存在时返回 nil, nil
func (r *SaveSlotRepository) Get(ctx context.Context, key string) (*schema.SaveSlot, error) {
	var slot schema.SaveSlot
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询存档失败: %w", err)
	}
	return &slot, nil
}

// Put 插入或覆盖存档槽
func (r *SaveSlotRepository) Put(ctx context.Context, slot *schema.SaveSlot) error {
	if slot == nil || slot.Key == "" {
		return fmt.Errorf("存档键不能为空")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "payload", "description", "timestamp", "updated_at"}),
	}).Create(slot).Error
	if err != nil {
		return fmt.Errorf("写入存档失败: %w", err)
	}
	return nil
}

// Delete 删除存档槽，返回是否删除了记录
func (r *SaveSlotRepository) Delete(ctx context.Context, key string) (bool, error) {
	res := r.db.WithContext(ctx).Where("key = ?", key).Delete(&schema.SaveSlot{})
	if res.Error != nil {
		return false, fmt.Errorf("删除存档失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByPrefix 列出键以 prefix 开头的存档槽，按时间倒序
func (r *SaveSlotRepository) ListByPrefix(ctx context.Context, prefix string) ([]schema.SaveSlot, error) {
	var slots []schema.SaveSlot
	err := r.db.WithContext(ctx).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("timestamp DESC, key DESC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("查询存档列表失败: %w", err)
	}
	return slots, nil
}

// DeleteByPrefix 删除键以 prefix 开头的全部存档槽
func (r *SaveSlotRepository) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("前缀不能为空")
	}
	res := r.db.WithContext(ctx).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Delete(&schema.SaveSlot{})
	if res.Error != nil {
		return 0, fmt.Errorf("清空存档失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// escapeLike 转义 LIKE 通配符（前缀中的下划线很常见）
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
