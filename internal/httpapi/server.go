package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuqie6/IdleCraft/internal/bootstrap"
	"github.com/yuqie6/IdleCraft/internal/eventbus"
	"github.com/yuqie6/IdleCraft/internal/pkg/buildinfo"
)

const (
	defaultListenAddr = "127.0.0.1:0"
	sseBuffer         = 32
	ssePingInterval   = 15 * time.Second
)

// LocalServer 仅监听本机的游戏 API，进程退出或 ctx 取消时关闭
type LocalServer struct {
	srv         *http.Server
	baseURL     string
	baseURLFile string
}

type Options struct {
	ListenAddr  string // 为空时随机端口
	BaseURLFile string // 非空时把实际地址写入该文件，便于其他进程发现
}

func Start(ctx context.Context, core *bootstrap.Core, opts Options) (*LocalServer, error) {
	if core == nil || core.Engine == nil || core.Services.Game == nil {
		return nil, fmt.Errorf("core 不能为空")
	}
	addr := strings.TrimSpace(opts.ListenAddr)
	if addr == "" {
		addr = defaultListenAddr
	}

	ln, baseURL, err := listenLocal(addr)
	if err != nil {
		return nil, fmt.Errorf("监听 %s 失败: %w", addr, err)
	}

	hub := core.Hub
	if hub == nil {
		hub = eventbus.NewHub()
	}
	ls := &LocalServer{
		srv: &http.Server{
			Handler:           logRequests(NewHandler(core, hub)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		baseURL:     baseURL,
		baseURLFile: opts.BaseURLFile,
	}

	go func() {
		if err := ls.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP 服务异常退出", "error", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ls.Shutdown(shutdownCtx)
	})

	if ls.baseURLFile != "" {
		if err := writeBaseURLFile(ls.baseURLFile, baseURL); err != nil {
			slog.Warn("写入地址文件失败", "path", ls.baseURLFile, "error", err)
		}
	}
	slog.Info("本地 HTTP 已启动", "base_url", baseURL)
	return ls, nil
}

// listenLocal 监听并返回可直接访问的地址；未指定主机时按回环地址拼接
func listenLocal(addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	tcp, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()
		return nil, "", fmt.Errorf("非 TCP 监听地址: %s", ln.Addr())
	}
	host := "127.0.0.1"
	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return ln, "http://" + net.JoinHostPort(host, fmt.Sprint(tcp.Port)), nil
}

// NewHandler 构建完整路由，供 Start 与测试共用
func NewHandler(core *bootstrap.Core, hub *eventbus.Hub) http.Handler {
	api := &apiServer{core: core, hub: hub, startTime: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.handleHealth)
	mux.HandleFunc("/api/events", api.wrapGET(api.handleSSE))
	api.registerJSONRoutes(mux)
	return mux
}

func (s *LocalServer) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

// Shutdown 关闭服务并移除地址文件，可重复调用
func (s *LocalServer) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	if s.baseURLFile != "" {
		_ = os.Remove(s.baseURLFile)
	}
	return s.srv.Shutdown(ctx)
}

func writeBaseURLFile(path, baseURL string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(baseURL), 0o644)
}

type apiServer struct {
	core      *bootstrap.Core
	hub       *eventbus.Hub
	startTime time.Time
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := a.core.RequireStorage() == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"name":        a.core.Cfg.App.Name,
		"version":     a.core.Cfg.App.Version,
		"build":       buildinfo.String(),
		"storage":     storage,
		"subscribers": a.hub.Subscribers(),
		"started_at":  a.startTime.Format(time.RFC3339),
	})
}

func (a *apiServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	sub := a.hub.Subscribe(ctx, sseBuffer)

	// 先订阅再发快照，中间的变更不会丢
	if err := stream.send("ready", a.core.Engine.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := stream.send("ping", struct{}{}); err != nil {
				return
			}
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := stream.send(evt.Type, evt); err != nil {
				slog.Debug("SSE 客户端断开", "error", err)
				return
			}
		}
	}
}
