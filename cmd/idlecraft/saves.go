package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/IdleCraft/internal/persistence"
)

// backupCmd 备份管理
func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "管理存档备份",
	}

	var label string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "保存当前状态并创建备份",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := core.RequireStorage(); err != nil {
				return err
			}
			ctx := context.Background()
			if err := bootGame(ctx); err != nil {
				return err
			}
			info, err := core.Services.Game.CreateBackup(ctx, label)
			if err != nil {
				return fmt.Errorf("创建备份失败: %w", err)
			}
			fmt.Printf("✅ 已创建备份 %s\n   %s\n", info.Key, info.Description)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&label, "label", "m", "", "备份描述")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出备份（新的在前）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := core.RequireStorage(); err != nil {
				return err
			}
			backups := core.Services.Game.ListBackups(context.Background())
			if len(backups) == 0 {
				fmt.Println("📭 还没有备份")
				fmt.Println("   使用 'idlecraft backup create' 创建")
				return nil
			}
			for _, b := range backups {
				mark := "✅"
				if !b.Valid {
					mark = "⚠️"
				}
				fmt.Printf("%s %s  %s  %s\n", mark, formatMillis(b.Timestamp), b.Key, b.Description)
			}
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <key>",
		Short: "用备份覆盖当前存档",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := core.RequireStorage(); err != nil {
				return err
			}
			rec, err := core.Services.Game.RestoreBackup(context.Background(), args[0])
			if err != nil {
				if errors.Is(err, persistence.ErrBackupNotFound) {
					return fmt.Errorf("备份不存在: %s", args[0])
				}
				return err
			}
			fmt.Printf("✅ 已恢复到 %s 的存档\n", formatMillis(rec.Timestamp))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "删除备份",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := core.RequireStorage(); err != nil {
				return err
			}
			if err := core.Services.Game.DeleteBackup(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("🗑  已删除")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, restoreCmd, deleteCmd)
	return cmd
}

// exportCmd 导出存档 JSON
func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "导出存档为 JSON（默认输出到 stdout）",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := bootGame(ctx); err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("创建导出文件失败: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := core.Services.Game.Export(ctx, w); err != nil {
				return fmt.Errorf("导出失败: %w", err)
			}
			if w != os.Stdout {
				fmt.Fprintf(os.Stderr, "✅ 已导出到 %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "输出文件路径")
	return cmd
}

// importCmd 导入存档文件
func importCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "导入存档文件（校验失败时不改变当前存档）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := core.RequireStorage(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			rec, err := core.Services.Game.ImportFile(ctx, args[0])
			if err != nil {
				var ie *persistence.ImportError
				if errors.As(err, &ie) {
					return fmt.Errorf("导入被拒绝: %s", ie.Reason)
				}
				return err
			}
			fmt.Printf("✅ 已导入存档（版本 %s，%d 个技能）\n", rec.Version, len(rec.Skills))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "导入超时")
	return cmd
}

// doctorCmd 存储自检
func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "检查数据库与存档完整性",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			fmt.Println("🩺 IdleCraft 自检")
			fmt.Println("═══════════════════════════════════════")
			fmt.Printf("  • 数据库: %s\n", orDash(core.Cfg.Storage.DBPath))
			fmt.Printf("  • 技能目录: %s\n", orDefault(core.Cfg.Catalog.Path, "内置"))
			fmt.Printf("  • 技能数: %d\n", len(core.Catalog.Skills()))

			if err := core.RequireStorage(); err != nil {
				fmt.Printf("  ❌ %v\n", err)
				fmt.Println("═══════════════════════════════════════")
				return nil
			}
			fmt.Printf("  • Schema 版本: %d（迁移程序 %s）\n", core.DB.SchemaVersion, orDash(core.DB.MigratedBy))
			if problems, err := core.DB.Integrity(ctx); err != nil {
				fmt.Printf("  ⚠️  %v\n", err)
			} else if len(problems) > 0 {
				fmt.Printf("  ❌ SQLite 完整性检查发现 %d 个问题\n", len(problems))
				for _, p := range problems {
					fmt.Printf("     - %s\n", p)
				}
			} else {
				fmt.Println("  ✅ SQLite 完整性检查通过")
			}

			if rec := core.Services.Saves.Load(ctx); rec != nil {
				fmt.Printf("  ✅ 主存档可读（%s）\n", formatMillis(rec.Timestamp))
			} else {
				fmt.Println("  ⚠️  主存档不存在或无法读取")
			}
			fmt.Printf("  • 备份: %d 个\n", len(core.Services.Game.ListBackups(ctx)))

			corrupt := core.Services.Game.Corruption(ctx)
			if len(corrupt) == 0 {
				fmt.Println("  ✅ 未发现损坏的存档槽")
			} else {
				fmt.Printf("  ❌ 发现 %d 个损坏的存档槽\n", len(corrupt))
				for _, c := range corrupt {
					fmt.Printf("     - %s [%s] %s\n", c.Key, c.Kind, c.Error)
				}
			}
			fmt.Println("═══════════════════════════════════════")
			return nil
		},
	}
	return cmd
}

// resetCmd 清空全部存档
func resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "删除主存档与全部备份，开始新游戏",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(os.Stdin, "确定要删除所有存档和备份吗？[y/N] ") {
				fmt.Println("已取消")
				return nil
			}
			if err := core.Services.Game.NewGame(context.Background()); err != nil {
				return err
			}
			fmt.Println("🆕 已重置为新游戏")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "跳过确认")
	return cmd
}

func confirm(r io.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
