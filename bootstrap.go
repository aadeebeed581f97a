package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/fetch"
	"github.com/any-hub/imgcache/internal/logging"
)

// appRuntime 聚合一次 CLI 调用共享的配置、日志与缓存实例。
type appRuntime struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
	storage    cache.Storage
	coord      *cache.Coordinator
}

// loadRuntime 遵循“配置 → 日志 → 磁盘存储 → 下载器 → 协调器”顺序构建运行时。
func loadRuntime(opts *rootOptions) (*appRuntime, error) {
	path := opts.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	storage := cache.NewDiskStorage()
	fetcher, err := fetch.NewHTTPFetcher(
		fetch.NewUpstreamClient(cfg.Cache.UpstreamTimeout.DurationValue()),
		storage,
		logger,
		fetch.RetryOptions{
			MaxRetries:     cfg.Cache.MaxRetries,
			InitialBackoff: cfg.Cache.InitialBackoff.DurationValue(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("初始化下载器失败: %w", err)
	}

	coord, err := cache.NewCoordinator(storage, fetcher, cache.CoordinatorOptions{
		BaseDir:             cfg.Cache.StoragePath,
		Logger:              logger,
		SweepConcurrency:    cfg.Sweep.Concurrency,
		PrefetchConcurrency: cfg.Cache.PrefetchConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	return &appRuntime{
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		storage:    storage,
		coord:      coord,
	}, nil
}

func (rt *appRuntime) fields(action string) logrus.Fields {
	fields := logging.BaseFields(action, rt.configPath)
	fields["storage_path"] = rt.cfg.Cache.StoragePath
	return fields
}
