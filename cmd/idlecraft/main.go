package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/IdleCraft/internal/bootstrap"
	"github.com/yuqie6/IdleCraft/internal/httpapi"
	"github.com/yuqie6/IdleCraft/internal/pkg/buildinfo"
	"github.com/yuqie6/IdleCraft/internal/pkg/config"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

// 不需要加载存档的命令
const skipCoreAnnotation = "skip-core"

func main() {
	rootCmd := &cobra.Command{
		Use:     "idlecraft",
		Short:   "IdleCraft - 本地放置类技能成长引擎",
		Long:    `IdleCraft 在本地模拟技能活动：按周期结算奖励、积累经验并升级，状态持久化到 SQLite 存档。`,
		Version: buildinfo.String(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Annotations[skipCoreAnnotation] == "true" {
				return
			}
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				os.Exit(1)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(activitiesCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(initConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd 前台运行引擎，直到收到退出信号
func runCmd() *cobra.Command {
	var listen string
	var noHTTP bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "运行引擎（时钟驱动、自动存档、本地 HTTP）",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap.StartRuntime(ctx, core)
			if err != nil {
				return fmt.Errorf("启动运行时失败: %w", err)
			}
			// 由 runtime 负责关闭 core
			core = nil
			defer rt.Close()

			if rt.Boot.Loaded {
				fmt.Printf("📂 已载入存档 (%s)\n", formatMillis(rt.Boot.SavedAt))
				if rt.Boot.OfflineCompletions > 0 {
					fmt.Printf("⏱  离线 %s，完成 %d 个周期\n", rt.Boot.OfflineElapsed.Round(time.Second), rt.Boot.OfflineCompletions)
				}
			} else {
				fmt.Println("🆕 新游戏")
			}

			if rt.Inbox != nil {
				fmt.Printf("📥 收件箱: %s\n", rt.Cfg.Import.WatchDir)
			}

			if rt.Cfg.HTTP.Enabled && !noHTTP {
				addr := rt.Cfg.HTTP.ListenAddr
				if listen != "" {
					addr = listen
				}
				var urlFile string
				if rt.Cfg.Storage.DBPath != "" {
					urlFile = filepath.Join(filepath.Dir(rt.Cfg.Storage.DBPath), "http_base_url.txt")
				}
				srv, err := httpapi.Start(ctx, rt.Core, httpapi.Options{ListenAddr: addr, BaseURLFile: urlFile})
				if err != nil {
					slog.Error("启动本地 HTTP 失败", "error", err)
				} else {
					fmt.Printf("🌐 %s\n", srv.BaseURL())
				}
			}

			slog.Info("IdleCraft 已启动", "name", rt.Cfg.App.Name, "version", buildinfo.String())
			<-ctx.Done()
			slog.Info("收到退出信号，正在保存...")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP 监听地址（覆盖配置）")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "不启动本地 HTTP")
	return cmd
}

// initConfigCmd 写出默认配置文件
func initConfigCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init-config [path]",
		Short:       "生成默认配置文件",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipCoreAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("配置文件已存在: %s（使用 --force 覆盖）", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.WriteFile(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("✅ 已写入 %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "覆盖已有文件")
	return cmd
}

// bootGame 载入存档（含离线结算），供一次性命令使用
func bootGame(ctx context.Context) error {
	report, err := core.Services.Game.Boot(ctx)
	if err != nil {
		return err
	}
	if report.OfflineCompletions > 0 {
		fmt.Printf("⏱  离线结算：%s，完成 %d 个周期\n\n", report.OfflineElapsed.Round(time.Second), report.OfflineCompletions)
	}
	return nil
}

// persist 一次性命令修改状态后立即落盘
func persist(ctx context.Context) error {
	if err := core.RequireStorage(); err != nil {
		fmt.Printf("⚠️  %v，本次修改不会保存\n", err)
		return nil
	}
	if _, err := core.Services.Game.SaveNow(ctx); err != nil {
		return fmt.Errorf("保存失败: %w", err)
	}
	return nil
}
