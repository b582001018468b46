package schema

import "time"

// SchemaMetaID schema_meta 只维护这一行
const SchemaMetaID = 1

// SchemaMeta 记录存档库的 schema 版本；AutoMigrate 只在版本落后时执行。
type SchemaMeta struct {
	ID            int       `gorm:"primaryKey"`
	SchemaVersion int       `gorm:"not null"`
	MigratedBy    string    `gorm:"size:64"` // 最后一次执行迁移的程序版本
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (SchemaMeta) TableName() string {
	return "schema_meta"
}

// Models 参与迁移的全部表，顺序即建表顺序
func Models() []any {
	return []any{&SchemaMeta{}, &SaveSlot{}}
}
