package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite" // 纯 Go SQLite 驱动
	"github.com/yuqie6/IdleCraft/internal/pkg/buildinfo"
	"github.com/yuqie6/IdleCraft/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database 存档库连接及其迁移状态
type Database struct {
	DB             *gorm.DB
	Path           string
	SafeMode       bool
	SchemaVersion  int
	MigratedBy     string
	MigrationError string
}

// MemoryPath 内存数据库路径，进程退出即丢失
const MemoryPath = ":memory:"

const latestSchemaVersion = 1

// 存档写入频率低，优先保证落盘；busy_timeout 避免 CLI 与常驻进程同时写入时直接报错
var filePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// NewDatabase 打开（必要时创建）存档库并执行版本化迁移。
// 迁移失败不返回错误，而是进入安全模式，由调用方停用存档功能。
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("数据库路径不能为空")
	}
	memory := dbPath == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := configureDB(db, memory); err != nil {
		return nil, fmt.Errorf("配置数据库失败: %w", err)
	}

	d := &Database{DB: db, Path: dbPath}
	if err := migrateWithVersion(db, d); err != nil {
		d.SafeMode = true
		d.MigrationError = err.Error()
		slog.Error("数据库迁移失败，进入安全模式", "error", err)
	}

	slog.Info("存档库已打开", "path", dbPath, "schema_version", d.SchemaVersion, "safe_mode", d.SafeMode)
	return d, nil
}

// IsMemory 是否为内存库
func (d *Database) IsMemory() bool {
	return d != nil && d.Path == MemoryPath
}

func configureDB(db *gorm.DB, memory bool) error {
	if memory {
		// 内存库只有一个连接能看到数据
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	for _, pragma := range filePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}
	return nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(schema.Models()...)
}

// loadSchemaMeta 读取 schema_meta，不存在时以版本 0 初始化
func loadSchemaMeta(db *gorm.DB) (*schema.SchemaMeta, error) {
	if err := db.AutoMigrate(&schema.SchemaMeta{}); err != nil {
		return nil, fmt.Errorf("创建 schema_meta 失败: %w", err)
	}
	var meta schema.SchemaMeta
	err := db.First(&meta, schema.SchemaMetaID).Error
	switch {
	case err == nil:
		return &meta, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		meta = schema.SchemaMeta{ID: schema.SchemaMetaID}
		if err := db.Create(&meta).Error; err != nil {
			return nil, fmt.Errorf("初始化 schema_meta 失败: %w", err)
		}
		return &meta, nil
	default:
		return nil, fmt.Errorf("读取 schema_meta 失败: %w", err)
	}
}

func migrateWithVersion(db *gorm.DB, out *Database) error {
	if db == nil || out == nil {
		return fmt.Errorf("db 与 out 不能为空")
	}

	meta, err := loadSchemaMeta(db)
	if err != nil {
		return err
	}
	out.SchemaVersion = meta.SchemaVersion
	out.MigratedBy = meta.MigratedBy

	// 新版本程序写过的库，旧程序不能动
	if meta.SchemaVersion > latestSchemaVersion {
		return fmt.Errorf("数据库 schema_version=%d 高于当前程序支持的版本=%d", meta.SchemaVersion, latestSchemaVersion)
	}
	if meta.SchemaVersion == latestSchemaVersion {
		return nil
	}

	if err := autoMigrate(db); err != nil {
		return fmt.Errorf("迁移数据库失败: %w", err)
	}
	from := meta.SchemaVersion
	meta.SchemaVersion = latestSchemaVersion
	meta.MigratedBy = buildinfo.Version
	if err := db.Save(meta).Error; err != nil {
		return fmt.Errorf("写入 schema_meta 失败: %w", err)
	}
	out.SchemaVersion = meta.SchemaVersion
	out.MigratedBy = meta.MigratedBy
	slog.Info("存档库 schema 已升级", "from", from, "to", latestSchemaVersion)
	return nil
}

// Available 存档表是否可用（安全模式下不可用）
func (d *Database) Available() bool {
	return d != nil && d.DB != nil && !d.SafeMode
}

// Integrity 执行 SQLite quick_check，返回发现的问题
func (d *Database) Integrity(ctx context.Context) ([]string, error) {
	if d == nil || d.DB == nil {
		return nil, fmt.Errorf("数据库未打开")
	}
	var rows []string
	if err := d.DB.WithContext(ctx).Raw("PRAGMA quick_check").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("完整性检查失败: %w", err)
	}
	problems := make([]string, 0, len(rows))
	for _, r := range rows {
		if r != "ok" {
			problems = append(problems, r)
		}
	}
	return problems, nil
}

// Close 合并 WAL 后关闭连接
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	if !d.IsMemory() && !d.SafeMode {
		if err := d.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
			slog.Warn("WAL checkpoint 失败", "error", err)
		}
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
