package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/engine"
	"github.com/yuqie6/IdleCraft/internal/progression"
	"github.com/yuqie6/IdleCraft/internal/scheduler"
)

// statusCmd 查看当前存档状态
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "查看技能与资源",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := bootGame(ctx); err != nil {
				return err
			}

			snap := core.Engine.Snapshot()
			st := core.Services.Game.Status()

			fmt.Println("🎮 IdleCraft 状态")
			fmt.Println("═══════════════════════════════════════")
			if !snap.Running {
				fmt.Println("⏸  已暂停")
			}

			fmt.Printf("\n🌳 技能\n")
			for _, sk := range snap.Skills {
				name := sk.SkillID
				if def, ok := core.Catalog.Skill(sk.SkillID); ok && def.Name != "" {
					name = def.Name
				}
				fmt.Printf("  %-12s %-6s [%s] %.0f/%.0f\n",
					name, levelSummary(sk.Level), progressBar(sk.Experience, sk.ExperienceToNext, 20), sk.Experience, sk.ExperienceToNext)
				if sk.IsActive {
					loop := ""
					if sk.Loop {
						loop = " 🔁"
					}
					fmt.Printf("      ▶ %s [%s] %.0f%%%s\n",
						activityName(core.Catalog, sk.SkillID, sk.ActiveActivityID), progressBar(sk.Progress, 100, 10), sk.Progress, loop)
				}
			}

			fmt.Printf("\n💰 资源\n")
			fmt.Printf("  • %s: %d\n", core.Catalog.PrimaryResource(), snap.Resources.Primary)
			for _, id := range snap.Resources.ResourceIDs() {
				fmt.Printf("  • %s: %d\n", id, snap.Resources.Secondary[id])
			}

			fmt.Printf("\n💾 存档\n")
			if !st.StorageEnabled {
				fmt.Println("  • 存档功能已停用")
			} else if st.LastSavedAt > 0 {
				fmt.Printf("  • 上次保存: %s\n", formatMillis(st.LastSavedAt))
			} else {
				fmt.Println("  • 尚未保存")
			}
			fmt.Println("\n═══════════════════════════════════════")
			return nil
		},
	}
	return cmd
}

// activitiesCmd 列出技能下的活动
func activitiesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "activities <skill>",
		Short: "列出技能可进行的活动",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skillID := strings.TrimSpace(args[0])
			def, ok := core.Catalog.Skill(skillID)
			if !ok {
				return unknownSkillError(core.Catalog, skillID)
			}
			if err := bootGame(context.Background()); err != nil {
				return err
			}

			sk, _ := core.Engine.SkillState(skillID)
			list := core.Engine.UnlockedActivities(skillID, sk.Level)
			if all {
				list = def.Activities
			}

			fmt.Printf("🎯 %s (Lv.%d)\n", def.Name, sk.Level)
			for _, a := range list {
				mark := "  "
				if a.RequiredLevel > sk.Level {
					mark = "🔒"
				} else if sk.IsActive && sk.ActiveActivityID == a.ID {
					mark = "▶ "
				}
				fmt.Printf("  %s %-14s Lv.%-3d %5.1fs  %s\n", mark, a.ID, a.RequiredLevel, a.BaseTime, describeRewards(a))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "包含未解锁的活动")
	return cmd
}

// searchCmd 模糊搜索活动
func searchCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "search <关键词>",
		Short: "按名称模糊搜索活动",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches := core.Catalog.Search(strings.Join(args, " "))
			if len(matches) == 0 {
				fmt.Println("📭 没有匹配的活动")
				return nil
			}
			for i, m := range matches {
				if top > 0 && i >= top {
					break
				}
				act, _ := core.Catalog.Activity(m.SkillID, m.ActivityID)
				fmt.Printf("  %s/%s  %s (Lv.%d)\n", m.SkillID, m.ActivityID, m.Name, act.RequiredLevel)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 10, "最多显示 N 条 (0=全部)")
	return cmd
}

// startCmd 开始活动并写回存档
func startCmd() *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "start <skill> <activity>",
		Short: "开始一个活动",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := bootGame(ctx); err != nil {
				return err
			}
			skillID, activityID := args[0], args[1]

			switch st := core.Engine.StartActivity(skillID, activityID, engine.StartOptions{Loop: loop}); st {
			case scheduler.StartOK:
				fmt.Printf("▶ 已开始 %s\n", activityName(core.Catalog, skillID, activityID))
			case scheduler.StartUnknownSkill:
				return unknownSkillError(core.Catalog, skillID)
			case scheduler.StartUnknownActivity:
				msg := fmt.Sprintf("未知活动: %s", activityID)
				if s := core.Catalog.SuggestActivity(skillID, activityID); s != "" {
					msg += fmt.Sprintf("（你是不是想找 %s？）", s)
				}
				return fmt.Errorf("%s", msg)
			case scheduler.StartLevelTooLow:
				act, _ := core.Catalog.Activity(skillID, activityID)
				sk, _ := core.Engine.SkillState(skillID)
				return fmt.Errorf("等级不足：需要 Lv.%d，当前 Lv.%d", act.RequiredLevel, sk.Level)
			case scheduler.StartAlreadyRunning:
				fmt.Println("ℹ️  该活动已在进行中")
				return nil
			}
			return persist(ctx)
		},
	}

	cmd.Flags().BoolVarP(&loop, "loop", "l", true, "完成后自动重新开始")
	return cmd
}

// stopCmd 停止技能当前活动
func stopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <skill>",
		Short: "停止技能当前的活动（未完成的进度作废）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			skillID := args[0]
			if !core.Catalog.HasSkill(skillID) {
				return unknownSkillError(core.Catalog, skillID)
			}
			if err := bootGame(ctx); err != nil {
				return err
			}
			if !core.Engine.StopActivity(skillID) {
				fmt.Println("ℹ️  该技能没有进行中的活动")
				return nil
			}
			fmt.Println("⏹ 已停止")
			return persist(ctx)
		},
	}
	return cmd
}

func unknownSkillError(cat *catalog.Catalog, skillID string) error {
	if s := cat.SuggestSkill(skillID); s != "" {
		return fmt.Errorf("未知技能: %s（你是不是想找 %s？）", skillID, s)
	}
	return fmt.Errorf("未知技能: %s（可用: %s）", skillID, strings.Join(cat.SkillIDs(), ", "))
}

func activityName(cat *catalog.Catalog, skillID, activityID string) string {
	if a, ok := cat.Activity(skillID, activityID); ok && a.Name != "" {
		return a.Name
	}
	return activityID
}

func describeRewards(a catalog.ActivityDefinition) string {
	parts := make([]string, 0, len(a.Rewards))
	for _, r := range a.Rewards {
		amount := fmt.Sprintf("%d", r.Min)
		if r.Max != r.Min {
			amount = fmt.Sprintf("%d-%d", r.Min, r.Max)
		}
		p := fmt.Sprintf("%s×%s", r.Resource, amount)
		if r.Chance < 1 {
			p += fmt.Sprintf(" (%g%%)", r.Chance*100)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

// levelSummary 满级时不显示进度
func levelSummary(level int) string {
	if level >= progression.MaxLevel {
		return "MAX"
	}
	return fmt.Sprintf("Lv.%d", level)
}
