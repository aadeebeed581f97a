package routes

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
)

// CacheAdmin 是 /-/cache 诊断接口依赖的缓存能力，由 cache.Coordinator 实现。
type CacheAdmin interface {
	BaseDir() string
	Entries() []cache.EntrySnapshot
	CacheSize(ctx context.Context) (int64, error)
	ClearCache(ctx context.Context) error
	ClearCacheBefore(ctx context.Context, days float64) (cache.SweepResult, error)
}

// RegisterCacheRoutes 暴露 /-/cache 诊断与维护接口，供运维查询缓存条目、占用并触发清理。
// defaultDays 用于 sweep 请求未携带 days 参数的情况。
func RegisterCacheRoutes(app *fiber.App, admin CacheAdmin, defaultDays float64, logger *logrus.Logger) {
	if app == nil || admin == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/cache/entries", func(c fiber.Ctx) error {
		entries := admin.Entries()
		if entries == nil {
			entries = []cache.EntrySnapshot{}
		}
		return c.JSON(fiber.Map{
			"base_dir": admin.BaseDir(),
			"entries":  entries,
		})
	})

	app.Get("/-/cache/size", func(c fiber.Ctx) error {
		size, err := admin.CacheSize(c.Context())
		if errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_dir_missing"})
		}
		if err != nil {
			logger.WithError(err).WithField("action", "cache_size").Error("cache_size_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_size_failed"})
		}
		return c.JSON(sizePayload{BaseDir: admin.BaseDir(), SizeBytes: size})
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		if err := admin.ClearCache(c.Context()); err != nil {
			logger.WithError(err).WithField("action", "cache_clear").Error("cache_clear_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_clear_failed"})
		}
		logger.WithField("action", "cache_clear").Info("cache_cleared")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cache/sweep", func(c fiber.Ctx) error {
		days, ok := parseDays(c.Query("days"), defaultDays)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_days"})
		}
		result, err := admin.ClearCacheBefore(c.Context(), days)
		if errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_dir_missing"})
		}
		if err != nil {
			logger.WithError(err).WithField("action", "cache_sweep").Error("cache_sweep_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_sweep_failed"})
		}
		return c.JSON(sweepPayload{MaxAgeDays: days, SweepResult: result})
	})
}

type sizePayload struct {
	BaseDir   string `json:"base_dir"`
	SizeBytes int64  `json:"size_bytes"`
}

type sweepPayload struct {
	MaxAgeDays float64 `json:"max_age_days"`
	cache.SweepResult
}

func parseDays(raw string, fallback float64) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, fallback >= 0
	}
	days, err := strconv.ParseFloat(raw, 64)
	if err != nil || days < 0 || math.IsNaN(days) || math.IsInf(days, 0) {
		return 0, false
	}
	return days, true
}
