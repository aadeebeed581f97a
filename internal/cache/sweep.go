package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SweepResult 汇总一次按年龄清理的结果。
type SweepResult struct {
	Scanned    int   `json:"scanned"`
	Removed    int   `json:"removed"`
	Failed     int   `json:"failed"`
	FreedBytes int64 `json:"freed_bytes"`
}

type sweepOutcome int

const (
	sweepKept sweepOutcome = iota
	sweepRemoved
	sweepFailed
	sweepSkipped
)

// ClearCacheBefore 删除 BaseDir 下一层中修改时间早于 now-days 的文件。
// 单个文件的 stat/删除失败只记录日志，不会中断其余文件的清理。
func (c *Coordinator) ClearCacheBefore(ctx context.Context, days float64) (SweepResult, error) {
	maxAge := time.Duration(days * float64(24*time.Hour))
	return c.sweep(ctx, maxAge)
}

func (c *Coordinator) sweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	base := c.keys.BaseDir()
	names, err := c.storage.List(base)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list %s: %w", base, err)
	}

	now := c.now()
	var (
		mu     sync.Mutex
		result SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.sweepLimit)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, freed := c.evictIfExpired(path.Join(base, name), now, maxAge)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case sweepSkipped:
				return nil
			case sweepRemoved:
				result.Removed++
				result.FreedBytes += freed
			case sweepFailed:
				result.Failed++
			}
			result.Scanned++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	c.logger.WithFields(logrus.Fields{
		"action":      "cache_sweep",
		"base_dir":    base,
		"max_age":     maxAge.String(),
		"scanned":     result.Scanned,
		"removed":     result.Removed,
		"failed":      result.Failed,
		"freed_bytes": result.FreedBytes,
	}).Debug("cache_sweep_finished")
	return result, nil
}

// evictIfExpired 在 modTime+maxAge 早于 now 时删除文件。目录与清理过程中消失的文件会被跳过。
func (c *Coordinator) evictIfExpired(filePath string, now time.Time, maxAge time.Duration) (sweepOutcome, int64) {
	info, err := c.storage.Stat(filePath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return sweepSkipped, 0
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_sweep",
			"path":   filePath,
		}).Warn("cache_sweep_stat_failed")
		return sweepFailed, 0
	}
	if info.IsDir {
		return sweepSkipped, 0
	}

	expireAt := info.ModTime.Add(maxAge)
	if !now.After(expireAt) {
		return sweepKept, 0
	}
	if err := c.storage.Remove(filePath); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_sweep",
			"path":   filePath,
		}).Warn("cache_sweep_remove_failed")
		return sweepFailed, 0
	}
	return sweepRemoved, info.SizeBytes
}

// CacheSize 返回 BaseDir 下所有文件的总字节数。目录不存在时返回 ErrNotFound，且不会创建目录。
func (c *Coordinator) CacheSize(ctx context.Context) (int64, error) {
	base := c.keys.BaseDir()
	info, err := c.storage.Stat(base)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", base, ErrNotFound)
		}
		return 0, err
	}
	if !info.IsDir {
		return 0, fmt.Errorf("%s is not a directory", base)
	}
	return c.dirSize(ctx, base)
}

func (c *Coordinator) dirSize(ctx context.Context, dir string) (int64, error) {
	names, err := c.storage.List(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		child := path.Join(dir, name)
		info, err := c.storage.Stat(child)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return 0, err
		}
		if info.IsDir {
			size, err := c.dirSize(ctx, child)
			if err != nil {
				return 0, err
			}
			total += size
			continue
		}
		total += info.SizeBytes
	}
	return total, nil
}
