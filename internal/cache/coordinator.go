package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imgcache/internal/logging"
)

const (
	defaultSweepConcurrency    = 8
	defaultPrefetchConcurrency = 4
)

// CoordinatorOptions 汇总 Coordinator 的可选依赖与并发参数。
type CoordinatorOptions struct {
	BaseDir             string
	Logger              *logrus.Logger
	SweepConcurrency    int
	PrefetchConcurrency int
}

// Coordinator 持有 URI → Entry 注册表，负责 get-or-fetch、清理与容量统计。
// 同一进程应只构造一个实例并通过指针共享。
type Coordinator struct {
	storage Storage
	fetcher Fetcher
	keys    KeyDeriver
	logger  *logrus.Logger
	now     func() time.Time

	sweepLimit    int
	prefetchLimit int

	mu      sync.Mutex
	entries map[string]*Entry

	lockMu sync.Mutex
	locks  map[string]*entryLock
}

// entryLock 按 URI 串行化解析流程，refs 归零时从 locks 中移除。
// sem 容量为 1，等待者可以在 ctx 取消时放弃排队。
type entryLock struct {
	sem  chan struct{}
	refs int
}

// PrefetchResult 统计批量预取的结果。
type PrefetchResult struct {
	Resolved    int `json:"resolved"`
	Unavailable int `json:"unavailable"`
}

// NewCoordinator 构造 Coordinator。不会创建 BaseDir，目录在首次下载或 ClearCache 时创建。
func NewCoordinator(storage Storage, fetcher Fetcher, opts CoordinatorOptions) (*Coordinator, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.BaseDir == "" {
		return nil, errors.New("base dir required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sweepLimit := opts.SweepConcurrency
	if sweepLimit <= 0 {
		sweepLimit = defaultSweepConcurrency
	}
	prefetchLimit := opts.PrefetchConcurrency
	if prefetchLimit <= 0 {
		prefetchLimit = defaultPrefetchConcurrency
	}

	return &Coordinator{
		storage:       storage,
		fetcher:       fetcher,
		keys:          NewKeyDeriver(opts.BaseDir),
		logger:        logger,
		now:           time.Now,
		sweepLimit:    sweepLimit,
		prefetchLimit: prefetchLimit,
		entries:       make(map[string]*Entry),
		locks:         make(map[string]*entryLock),
	}, nil
}

// BaseDir 返回缓存根目录。
func (c *Coordinator) BaseDir() string {
	return c.keys.BaseDir()
}

// Get 查找或创建 uri 对应的 Entry。若条目已存在，opts 会被忽略：
// 首次请求的 Options 生效（first options win）。
func (c *Coordinator) Get(uri string, opts Options) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[uri]; ok {
		if !optionsEqual(entry.opts, opts) {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_get",
				"uri":    uri,
			}).Debug("options_ignored_for_existing_entry")
		}
		return entry
	}
	entry := newEntry(c, uri, opts)
	c.entries[uri] = entry
	return entry
}

// Resolve 确保 uri 的本地副本存在并返回其路径，等价于 Get(uri, opts).Path(ctx)。
func (c *Coordinator) Resolve(ctx context.Context, uri string, opts Options) (string, bool, error) {
	return c.Get(uri, opts).Path(ctx)
}

// ResolveMultiple 为每个 uri 注册条目并立即返回句柄，不等待也不触发任何下载。
// 调用方按需对句柄调用 Path，或使用 Prefetch 批量等待。
func (c *Coordinator) ResolveMultiple(uris []string, opts Options) []*Entry {
	result := make([]*Entry, 0, len(uris))
	for _, uri := range uris {
		result = append(result, c.Get(uri, opts))
	}
	return result
}

// Prefetch 以有限并发解析全部 uri 并等待完成。非 2xx 计入 Unavailable；
// 首个传输层错误会取消其余下载并返回。
func (c *Coordinator) Prefetch(ctx context.Context, uris []string, opts Options) (PrefetchResult, error) {
	entries := c.ResolveMultiple(uris, opts)

	var resolved, unavailable atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.prefetchLimit)
	for _, entry := range entries {
		g.Go(func() error {
			_, ok, err := entry.Path(gctx)
			if err != nil {
				return err
			}
			if ok {
				resolved.Add(1)
			} else {
				unavailable.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return PrefetchResult{
		Resolved:    int(resolved.Load()),
		Unavailable: int(unavailable.Load()),
	}, err
}

// Entries 返回注册表快照，按 URI 排序。
func (c *Coordinator) Entries() []EntrySnapshot {
	c.mu.Lock()
	list := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		list = append(list, entry)
	}
	c.mu.Unlock()

	result := make([]EntrySnapshot, 0, len(list))
	for _, entry := range list {
		result = append(result, entry.Snapshot())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].URI < result[j].URI
	})
	return result
}

// ClearCache 删除整个缓存目录并重建为空目录。注册表保持不变，
// 因为每次解析都会重新检查磁盘。
func (c *Coordinator) ClearCache(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := c.keys.BaseDir()
	if err := c.storage.RemoveAll(base); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	if err := c.storage.MkdirAll(base); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"action":   "cache_clear",
		"base_dir": base,
	}).Info("cache_cleared")
	return nil
}

func (c *Coordinator) resolveEntry(ctx context.Context, entry *Entry) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	unlock, err := c.lockURI(ctx, entry.uri)
	if err != nil {
		return "", false, err
	}
	defer unlock()

	started := time.Now()
	key := c.keys.Derive(entry.uri)

	exists, err := c.storage.Exists(key.CanonicalPath)
	if err != nil {
		entry.markFailed(0)
		return "", false, fmt.Errorf("check %s: %w", key.CanonicalPath, err)
	}
	if exists {
		entry.markResolved(key.CanonicalPath, "")
		c.logResolve(entry.uri, key.CanonicalPath, true, 0, started, nil)
		return key.CanonicalPath, true, nil
	}

	entry.setState(EntryResolving)
	if err := c.storage.MkdirAll(c.keys.BaseDir()); err != nil {
		entry.markFailed(0)
		return "", false, fmt.Errorf("create cache dir: %w", err)
	}

	result, err := c.fetcher.Fetch(ctx, entry.uri, key.StagingPath, entry.opts)
	if err != nil {
		c.discardStaging(key.StagingPath)
		entry.markFailed(0)
		c.logResolve(entry.uri, "", false, 0, started, err)
		return "", false, fmt.Errorf("fetch %s: %w", entry.uri, err)
	}
	if !isSuccessStatus(result.StatusCode) {
		c.discardStaging(key.StagingPath)
		entry.markFailed(result.StatusCode)
		c.logResolve(entry.uri, "", false, result.StatusCode, started, nil)
		return "", false, nil
	}

	if err := c.storage.Move(key.StagingPath, key.CanonicalPath); err != nil {
		c.discardStaging(key.StagingPath)
		entry.markFailed(result.StatusCode)
		c.logResolve(entry.uri, "", false, result.StatusCode, started, err)
		return "", false, err
	}

	entry.markResolved(key.CanonicalPath, result.MD5)
	c.logResolve(entry.uri, key.CanonicalPath, false, result.StatusCode, started, nil)
	return key.CanonicalPath, true, nil
}

func (c *Coordinator) discardStaging(path string) {
	if err := c.storage.Remove(path); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_discard_staging",
			"path":   path,
		}).Warn("staging_cleanup_failed")
	}
}

func (c *Coordinator) lockURI(ctx context.Context, uri string) (func(), error) {
	c.lockMu.Lock()
	lock := c.locks[uri]
	if lock == nil {
		lock = &entryLock{sem: make(chan struct{}, 1)}
		c.locks[uri] = lock
	}
	lock.refs++
	c.lockMu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		c.releaseLock(uri, lock)
		return nil, ctx.Err()
	}
	return func() {
		<-lock.sem
		c.releaseLock(uri, lock)
	}, nil
}

func (c *Coordinator) releaseLock(uri string, lock *entryLock) {
	c.lockMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, uri)
	}
	c.lockMu.Unlock()
}

func (c *Coordinator) logResolve(uri, path string, cacheHit bool, status int, started time.Time, err error) {
	fields := logging.ResolveFields(uri, path, cacheHit)
	fields["action"] = "resolve"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if status != 0 {
		fields["upstream_status"] = status
	}
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("resolve_failed")
		return
	}
	if path == "" {
		c.logger.WithFields(fields).Warn("resolve_unavailable")
		return
	}
	c.logger.WithFields(fields).Debug("resolve_complete")
}
