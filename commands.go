package main

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mileusna/crontab"
	"github.com/spf13/cobra"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/scheduler"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/server/routes"
	"github.com/any-hub/imgcache/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与定时清理",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return failf("%v", err)
			}
			return serve(commandContext(cmd), rt)
		},
	}
}

func serve(parent context.Context, rt *appRuntime) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.storage.MkdirAll(rt.cfg.Cache.StoragePath); err != nil {
		return failf("初始化缓存目录失败: %v", err)
	}

	ctab := crontab.New()
	defer ctab.Shutdown()
	if err := scheduler.StartSweeper(ctx, ctab, rt.coord, rt.cfg.Sweep.Schedule, rt.cfg.Sweep.MaxAgeDays, rt.logger); err != nil {
		return failf("注册定时清理失败: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:      rt.logger,
		Coordinator: rt.coord,
		Storage:     rt.storage,
		Headers:     rt.cfg.Cache.Headers,
	})
	if err != nil {
		return failf("HTTP 服务初始化失败: %v", err)
	}
	routes.RegisterCacheRoutes(app, rt.coord, rt.cfg.Sweep.MaxAgeDays, rt.logger)

	port := rt.cfg.Global.ListenPort
	fields := rt.fields("startup")
	fields["listen_port"] = port
	fields["sweep_enabled"] = rt.cfg.SweepEnabled()
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("配置加载完成")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return failf("HTTP 服务启动失败: %v", err)
		}
		return nil
	case <-ctx.Done():
		rt.logger.WithFields(rt.fields("shutdown")).Info("收到退出信号，停止服务")
		if err := app.Shutdown(); err != nil {
			return failf("HTTP 服务停止失败: %v", err)
		}
		return nil
	}
}

type fetchOptions struct {
	md5     bool
	headers []string
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	fo := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URI...",
		Short: "下载（或命中缓存）并打印本地路径",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseHeaders(fo.headers)
			if err != nil {
				return err
			}
			rt, err := loadRuntime(opts)
			if err != nil {
				return failf("%v", err)
			}
			headers := mergeHeaders(rt.cfg.Cache.Headers, extra)
			return fetchAll(commandContext(cmd), rt, args, cache.Options{Headers: headers, MD5: fo.md5})
		},
	}
	cmd.Flags().BoolVar(&fo.md5, "md5", false, "同时输出下载内容的 MD5")
	cmd.Flags().StringArrayVar(&fo.headers, "header", nil, "附加的上游请求头，格式 key=value，可重复")
	return cmd
}

// fetchAll 以 Cache.PrefetchConcurrency 并发解析全部 URI，按参数顺序每行输出
// "uri<TAB>path[<TAB>md5]"；不可用的 URI 输出 "-"。
func fetchAll(ctx context.Context, rt *appRuntime, uris []string, opts cache.Options) error {
	result, err := rt.coord.Prefetch(ctx, uris, opts)
	if err != nil {
		return failf("下载失败: %v", err)
	}

	for _, entry := range rt.coord.ResolveMultiple(uris, opts) {
		snapshot := entry.Snapshot()
		switch {
		case snapshot.State != cache.EntryResolved:
			fmt.Fprintf(stdOut, "%s\t-\n", snapshot.URI)
		case snapshot.MD5 != "":
			fmt.Fprintf(stdOut, "%s\t%s\t%s\n", snapshot.URI, snapshot.Path, snapshot.MD5)
		default:
			fmt.Fprintf(stdOut, "%s\t%s\n", snapshot.URI, snapshot.Path)
		}
	}

	fields := rt.fields("fetch")
	fields["resolved"] = result.Resolved
	fields["unavailable"] = result.Unavailable
	rt.logger.WithFields(fields).Info("fetch_complete")
	if result.Unavailable > 0 {
		return failf("%d 个 URI 上游不可用", result.Unavailable)
	}
	return nil
}

// mergeHeaders 合并配置中的请求头与命令行 --header，命令行优先。
func mergeHeaders(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[textproto.CanonicalMIMEHeaderKey(key)] = value
	}
	for key, value := range extra {
		merged[textproto.CanonicalMIMEHeaderKey(key)] = value
	}
	return merged
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("无效的请求头 %q，应为 key=value", item)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "清空缓存目录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return failf("%v", err)
			}
			if err := rt.coord.ClearCache(commandContext(cmd)); err != nil {
				return failf("清空缓存失败: %v", err)
			}
			rt.logger.WithFields(rt.fields("cache_clear")).Info("缓存已清空")
			return nil
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var days float64
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "删除早于指定天数的缓存文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return failf("%v", err)
			}
			if !cmd.Flags().Changed("days") {
				days = rt.cfg.Sweep.MaxAgeDays
			}
			if days < 0 {
				return fmt.Errorf("--days 不能为负数: %v", days)
			}
			result, err := rt.coord.ClearCacheBefore(commandContext(cmd), days)
			if err != nil {
				return failf("清理缓存失败: %v", err)
			}
			fields := logging.SweepFields(days, result.Scanned, result.Removed, result.Failed, result.FreedBytes)
			rt.logger.WithFields(fields).Info("cache_sweep_complete")
			fmt.Fprintf(stdOut, "removed=%d failed=%d freed_bytes=%d\n", result.Removed, result.Failed, result.FreedBytes)
			return nil
		},
	}
	cmd.Flags().Float64Var(&days, "days", 0, "最大保留天数，默认读取 Sweep.MaxAgeDays")
	return cmd
}

func newSizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "打印缓存目录占用字节数",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return failf("%v", err)
			}
			size, err := rt.coord.CacheSize(commandContext(cmd))
			if errors.Is(err, cache.ErrNotFound) {
				return failf("缓存目录不存在: %s", rt.cfg.Cache.StoragePath)
			}
			if err != nil {
				return failf("统计缓存失败: %v", err)
			}
			fmt.Fprintln(stdOut, size)
			return nil
		},
	}
}

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return failf("加载配置失败: %v", err)
			}
			logger, err := logging.InitLogger(cfg.Global)
			if err != nil {
				return failf("初始化日志失败: %v", err)
			}
			fields := logging.BaseFields("check_config", path)
			fields["storage_path"] = cfg.Cache.StoragePath
			fields["sweep_enabled"] = cfg.SweepEnabled()
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
