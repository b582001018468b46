package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/engine"
	"github.com/yuqie6/IdleCraft/internal/eventbus"
	"github.com/yuqie6/IdleCraft/internal/persistence"
	"github.com/yuqie6/IdleCraft/internal/pkg/config"
	"github.com/yuqie6/IdleCraft/internal/repository"
	"github.com/yuqie6/IdleCraft/internal/reward"
	"github.com/yuqie6/IdleCraft/internal/service"
)

// Core 持有跨命令共享的核心依赖（不启动驱动与后台任务）
type Core struct {
	Cfg       *config.Config
	DB        *repository.Database // 存储禁用时为 nil
	LogCloser io.Closer
	Catalog   *catalog.Catalog
	Engine    *engine.Engine
	Hub       *eventbus.Hub

	Repos struct {
		SaveSlot *repository.SaveSlotRepository
	}

	Services struct {
		Saves *persistence.SaveService
		Game  *service.GameService
	}
}

// NewCore 加载配置、初始化日志并构建核心依赖
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logCloser, _ := config.SetupLogger(config.LoggerOptions{
		Level:     cfg.App.LogLevel,
		Path:      cfg.App.LogPath,
		Component: filepath.Base(os.Args[0]),
	})

	c, err := NewCoreFromConfig(cfg)
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}
	c.LogCloser = logCloser
	return c, nil
}

// NewCoreFromConfig 使用已加载的配置构建核心依赖
func NewCoreFromConfig(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg 不能为空")
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, Catalog: cat, Hub: eventbus.NewHub()}

	// 存储：路径为空时禁用，安全模式下同样不写库
	var store persistence.SlotStore
	if cfg.Storage.DBPath != "" {
		db, err := repository.NewDatabase(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		c.DB = db
		c.Repos.SaveSlot = repository.NewSaveSlotRepository(db.DB)
		if db.Available() {
			store = c.Repos.SaveSlot
		} else {
			slog.Warn("数据库处于安全模式，存档功能已停用", "error", db.MigrationError)
		}
	} else {
		slog.Warn("未配置 storage.db_path，存档功能已停用")
	}

	c.Services.Saves = persistence.NewSaveService(store, persistence.SaveConfig{
		KeyPrefix:       cfg.Storage.KeyPrefix,
		BackupCacheSize: cfg.Storage.BackupCacheSize,
	})

	var roller *reward.Roller
	if cfg.Engine.Seed != 0 {
		roller = reward.NewSeededRoller(cfg.Engine.Seed)
	} else {
		roller = reward.NewRoller(nil)
	}
	c.Engine = engine.New(cat, roller)

	c.Services.Game = service.NewGameService(c.Engine, c.Services.Saves, c.Hub, &service.GameConfig{
		TickInterval:     cfg.Engine.TickInterval(),
		AutosaveInterval: cfg.Autosave.Interval(),
		OfflineProgress:  cfg.Engine.OfflineProgress,
		OfflineCap:       cfg.Engine.OfflineCap(),
	})
	return c, nil
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.Services.Game != nil {
		if err := c.Services.Game.Close(); err != nil {
			slog.Warn("关闭游戏服务失败", "error", err)
		}
	}
	var dbErr error
	if c.DB != nil {
		dbErr = c.DB.Close()
	}
	if c.LogCloser != nil {
		_ = c.LogCloser.Close()
	}
	return dbErr
}

// RequireStorage 检查存档功能是否可用
func (c *Core) RequireStorage() error {
	if c.Services.Saves == nil || !c.Services.Saves.Enabled() {
		if c.DB != nil && c.DB.SafeMode {
			return fmt.Errorf("数据库处于安全模式: %s", c.DB.MigrationError)
		}
		return persistence.ErrStorageDisabled
	}
	return nil
}
