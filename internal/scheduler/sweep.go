package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mileusna/crontab"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
)

// Sweeper 是定时任务需要的最小能力，由 cache.Coordinator 实现。
type Sweeper interface {
	ClearCacheBefore(ctx context.Context, days float64) (cache.SweepResult, error)
}

// StartSweeper 在 ctab 上注册按 schedule 触发的过期清理任务。
// schedule 为空时不注册任何任务。
func StartSweeper(ctx context.Context, ctab *crontab.Crontab, sweeper Sweeper, schedule string, days float64, logger *logrus.Logger) error {
	if schedule == "" {
		return nil
	}
	if ctab == nil || sweeper == nil {
		return errors.New("crontab and sweeper are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := ctab.AddJob(schedule, func() {
		runSweep(ctx, sweeper, days, logger)
	}); err != nil {
		return fmt.Errorf("register sweep %q: %w", schedule, err)
	}
	logger.WithFields(logrus.Fields{
		"action":   "sweep_schedule",
		"schedule": schedule,
		"max_days": days,
	}).Info("cache_sweep_scheduled")
	return nil
}

func runSweep(ctx context.Context, sweeper Sweeper, days float64, logger *logrus.Logger) {
	result, err := sweeper.ClearCacheBefore(ctx, days)
	fields := logging.SweepFields(days, result.Scanned, result.Removed, result.Failed, result.FreedBytes)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		logger.WithFields(fields).Debug("cache_sweep_skipped")
	case err != nil:
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("cache_sweep_failed")
	default:
		logger.WithFields(fields).Info("cache_sweep_complete")
	}
}
