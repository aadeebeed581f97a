package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Storage 是 Coordinator 依赖的目录/文件原语。磁盘布局是单层目录：
//
//	<BaseDir>/<sha1(uri)><ext>              # 已发布的缓存文件
//	<BaseDir>/<sha1(uri)>-<token><ext>      # 下载中的暂存文件
//
// 不持久化任何索引文件，注册表只存在于内存中。
type Storage interface {
	// Exists 报告 path 是否存在。
	Exists(path string) (bool, error)

	// MkdirAll 创建目录，目录已存在时不报错。
	MkdirAll(path string) error

	// Move 原子地将 from 重命名为 to。读者只会看到不存在或完整的 to。
	Move(from, to string) error

	// Remove 删除单个文件，不存在时返回 nil。
	Remove(path string) error

	// RemoveAll 递归删除目录，不存在时返回 nil。
	RemoveAll(path string) error

	// List 返回 dir 下一层的文件名。dir 不存在时返回 ErrNotFound。
	List(dir string) ([]string, error)

	// Stat 返回文件信息，不存在时返回 ErrNotFound。
	Stat(path string) (FileInfo, error)

	// Create 以截断方式打开 path 供写入。
	Create(path string) (io.WriteCloser, error)

	// Open 打开 path 供读取。
	Open(path string) (io.ReadSeekCloser, error)
}

// FileInfo 只保留缓存逻辑关心的元数据。
type FileInfo struct {
	Name      string
	SizeBytes int64
	ModTime   time.Time
	IsDir     bool
}

// Options 是首次请求某个 URI 时记录下来的下载参数。
type Options struct {
	// Headers 透传给 Fetcher 的请求头。
	Headers map[string]string
	// MD5 为 true 时要求 Fetcher 计算下载内容的 MD5 作为校验提示。
	MD5 bool
}

// FetchResult 描述一次下载的结果。StatusCode 非 2xx 时不会写入任何内容。
type FetchResult struct {
	StatusCode int
	SizeBytes  int64
	MD5        string
}

// Fetcher 将 uri 下载到 dest（通常是暂存路径）。重试与超时策略由实现自行决定，
// 传输层失败以 error 返回，干净的非 2xx 响应通过 StatusCode 表达。
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string, opts Options) (FetchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri, dest string, opts Options) (FetchResult, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, uri, dest string, opts Options) (FetchResult, error) {
	return f(ctx, uri, dest, opts)
}

// ErrNotFound 表示缓存目录或文件不存在。
var ErrNotFound = errors.New("cache entry not found")

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
