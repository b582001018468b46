package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Autosave AutosaveConfig `mapstructure:"autosave" yaml:"autosave"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Import   ImportConfig   `mapstructure:"import" yaml:"import"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Version  string `mapstructure:"version" yaml:"version"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogPath  string `mapstructure:"log_path" yaml:"log_path"` // 为空时只输出到 stdout
}

// EngineConfig 引擎配置
type EngineConfig struct {
	TickIntervalMs  int   `mapstructure:"tick_interval_ms" yaml:"tick_interval_ms"`
	OfflineProgress bool  `mapstructure:"offline_progress" yaml:"offline_progress"`
	OfflineCapHours int   `mapstructure:"offline_cap_hours" yaml:"offline_cap_hours"`
	Seed            int64 `mapstructure:"seed" yaml:"seed"` // 0 表示随机
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath          string `mapstructure:"db_path" yaml:"db_path"` // 为空时禁用存档
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix"`
	BackupCacheSize int    `mapstructure:"backup_cache_size" yaml:"backup_cache_size"`
}

// AutosaveConfig 自动存档配置
type AutosaveConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"` // <=0 关闭
}

// CatalogConfig 技能目录配置
type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // 为空时使用内置目录
}

// ImportConfig 存档导入收件箱
type ImportConfig struct {
	WatchDir   string `mapstructure:"watch_dir" yaml:"watch_dir"` // 为空时关闭
	DebounceMs int    `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// HTTPConfig 本地 HTTP 接口
type HTTPConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// TickInterval tick 间隔
func (c EngineConfig) TickInterval() time.Duration {
	if c.TickIntervalMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// OfflineCap 离线收益上限
func (c EngineConfig) OfflineCap() time.Duration {
	if c.OfflineCapHours <= 0 {
		return 0
	}
	return time.Duration(c.OfflineCapHours) * time.Hour
}

// Interval 自动存档间隔
func (c AutosaveConfig) Interval() time.Duration {
	if c.IntervalSec <= 0 {
		return 0
	}
	return time.Duration(c.IntervalSec) * time.Second
}

// Debounce 导入去抖间隔
func (c ImportConfig) Debounce() time.Duration {
	if c.DebounceMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("IDLECRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 处理相对路径
	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.App.LogPath = resolvePath(cfg.App.LogPath)
	cfg.Catalog.Path = resolvePath(cfg.Catalog.Path)
	cfg.Import.WatchDir = resolvePath(cfg.Import.WatchDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 仅由默认值构成的配置（不读文件和环境变量）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// 默认值是常量，不会解析失败
		panic(err)
	}
	return &cfg
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if c.Engine.TickIntervalMs < 10 {
		return fmt.Errorf("engine.tick_interval_ms 过小: %d", c.Engine.TickIntervalMs)
	}
	if c.Engine.OfflineCapHours < 0 {
		return fmt.Errorf("engine.offline_cap_hours 不能为负: %d", c.Engine.OfflineCapHours)
	}
	if c.Storage.BackupCacheSize < 0 {
		return fmt.Errorf("storage.backup_cache_size 不能为负: %d", c.Storage.BackupCacheSize)
	}
	if strings.ContainsAny(c.Storage.KeyPrefix, " %") {
		return fmt.Errorf("storage.key_prefix 含非法字符: %q", c.Storage.KeyPrefix)
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "idlecraft")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_path", "")

	// Engine
	v.SetDefault("engine.tick_interval_ms", 250)
	v.SetDefault("engine.offline_progress", true)
	v.SetDefault("engine.offline_cap_hours", 12)
	v.SetDefault("engine.seed", 0)

	// Storage
	v.SetDefault("storage.db_path", "./data/idlecraft.db")
	v.SetDefault("storage.key_prefix", "idlecraft")
	v.SetDefault("storage.backup_cache_size", 64)

	// Autosave
	v.SetDefault("autosave.interval_sec", 30)

	// Catalog
	v.SetDefault("catalog.path", "")

	// Import
	v.SetDefault("import.watch_dir", "")
	v.SetDefault("import.debounce_ms", 500)

	// HTTP
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen_addr", "127.0.0.1:0")
}

// resolvePath 解析相对路径为可执行文件目录下的绝对路径
func resolvePath(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}

	// 获取可执行文件目录
	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}

// LoggerOptions 日志配置
type LoggerOptions struct {
	Level     string
	Path      string // 追加写入的日志文件，为空时只写 stdout
	Component string
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogger 设置全局 slog；返回的 Closer 用于关闭日志文件
func SetupLogger(opts LoggerOptions) (io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	})
	logger := slog.New(handler)
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	slog.SetDefault(logger)
	return closer, nil
}
