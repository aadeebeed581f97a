package config

import (
	"errors"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}

	cache := c.Cache
	if strings.TrimSpace(cache.StoragePath) == "" {
		return newFieldError("Cache.StoragePath", "不能为空")
	}
	if cache.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Cache.UpstreamTimeout", "必须大于 0")
	}
	if cache.MaxRetries < 0 {
		return newFieldError("Cache.MaxRetries", "不能为负数")
	}
	if cache.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Cache.InitialBackoff", "必须大于 0")
	}
	if cache.PrefetchConcurrency <= 0 {
		return newFieldError("Cache.PrefetchConcurrency", "必须大于 0")
	}

	for name := range cache.Headers {
		if strings.TrimSpace(name) == "" {
			return newFieldError("Cache.Headers", "请求头名称不能为空")
		}
	}

	sweep := c.Sweep
	if sweep.MaxAgeDays < 0 {
		return newFieldError("Sweep.MaxAgeDays", "不能为负数")
	}
	if sweep.Concurrency <= 0 {
		return newFieldError("Sweep.Concurrency", "必须大于 0")
	}
	if schedule := strings.TrimSpace(sweep.Schedule); schedule != "" {
		if len(strings.Fields(schedule)) != 5 {
			return newFieldError("Sweep.Schedule", "必须是 5 段 cron 表达式")
		}
	}

	return nil
}
