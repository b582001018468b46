package bootstrap

import (
	"context"
	"log/slog"

	"github.com/yuqie6/IdleCraft/internal/collector"
	"github.com/yuqie6/IdleCraft/internal/service"
)

// GameRuntime 常驻进程：在 Core 之上跑着引擎驱动、自动存档与存档收件箱
type GameRuntime struct {
	*Core
	Boot  *service.BootReport
	Inbox *service.ImportInboxService // 未配置收件箱或启动失败时为 nil
}

// StartRuntime 读取存档、启动驱动，并按配置打开收件箱。
// 收件箱失败只记日志，游戏照常运行。
func StartRuntime(ctx context.Context, core *Core) (*GameRuntime, error) {
	report, err := core.Services.Game.Boot(ctx)
	if err != nil {
		return nil, err
	}
	if err := core.Services.Game.Start(ctx); err != nil {
		return nil, err
	}

	rt := &GameRuntime{Core: core, Boot: report}
	if dir := core.Cfg.Import.WatchDir; dir != "" {
		rt.Inbox = startInbox(ctx, core, dir)
	}
	return rt, nil
}

func startInbox(ctx context.Context, core *Core, dir string) *service.ImportInboxService {
	cfg := collector.DefaultSaveFileCollectorConfig(dir)
	cfg.Debounce = core.Cfg.Import.Debounce()
	watcher, err := collector.NewSaveFileCollector(cfg)
	if err != nil {
		slog.Warn("存档收件箱不可用", "dir", dir, "error", err)
		return nil
	}

	inbox := service.NewImportInboxService(watcher, core.Services.Game, watcher.Dir())
	if err := inbox.Start(ctx); err != nil {
		slog.Warn("启动存档收件箱失败", "dir", dir, "error", err)
		_ = watcher.Stop()
		return nil
	}
	return inbox
}

// Close 停掉收件箱后关闭 Core；最终存档由 GameService.Stop 负责
func (rt *GameRuntime) Close() error {
	if rt == nil {
		return nil
	}
	if rt.Inbox != nil {
		_ = rt.Inbox.Stop()
	}
	return rt.Core.Close()
}
