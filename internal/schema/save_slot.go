package schema

import "time"

// 存档槽类型
const (
	SlotKindPrimary = "primary"
	SlotKindBackup  = "backup"
)

// SaveSlot 键值式存档槽：主存档与备份共用一张表，Payload 为 JSON 文本。
// 数据量级：十级
type SaveSlot struct {
	Key         string    `gorm:"primaryKey;size:200"` // idlecraft_save / idlecraft_backup_<ms>_<hex>
	Kind        string    `gorm:"size:20;index"`       // primary / backup
	Payload     string    `gorm:"type:text"`           // 原样保存，读取时再解析
	Description string    `gorm:"size:500"`            // 备份标签
	Timestamp   int64     `gorm:"index"`               // 存档时间 (Unix ms)
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (SaveSlot) TableName() string {
	return "save_slots"
}
