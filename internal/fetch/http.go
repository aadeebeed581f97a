package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
)

const (
	userAgent       = "imgcache"
	maxBackoff      = 30 * time.Second
	maxDrainedBytes = 64 * 1024
)

// RetryOptions 控制下载失败时的重试次数与指数退避起点。
type RetryOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// HTTPFetcher 通过 HTTP GET 将资源写入 Storage 中的目标路径。
type HTTPFetcher struct {
	client  *http.Client
	storage cache.Storage
	logger  *logrus.Logger
	retry   RetryOptions
}

var _ cache.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher 构造 HTTPFetcher，client 为空时使用默认的上游 client。
func NewHTTPFetcher(client *http.Client, storage cache.Storage, logger *logrus.Logger, retry RetryOptions) (*HTTPFetcher, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if client == nil {
		client = NewUpstreamClient(0)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 500 * time.Millisecond
	}
	return &HTTPFetcher{
		client:  client,
		storage: storage,
		logger:  logger,
		retry:   retry,
	}, nil
}

// Fetch 下载 uri 到 dest。2xx 时写入正文；其它状态码不写任何内容并通过 StatusCode 返回。
// 传输错误与 429/5xx 会按指数退避重试，ctx 取消时立即返回。
func (f *HTTPFetcher) Fetch(ctx context.Context, uri, dest string, opts cache.Options) (cache.FetchResult, error) {
	delay := f.retry.InitialBackoff
	for attempt := 0; ; attempt++ {
		result, retryable, err := f.fetchOnce(ctx, uri, dest, opts)
		if !retryable || attempt >= f.retry.MaxRetries {
			return result, err
		}

		fields := logrus.Fields{
			"action":  "fetch_retry",
			"uri":     uri,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["upstream_status"] = result.StatusCode
		}
		f.logger.WithFields(fields).Warn("fetch_retry_scheduled")

		if err := sleepContext(ctx, delay); err != nil {
			return cache.FetchResult{}, err
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, uri, dest string, opts cache.Options) (cache.FetchResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return cache.FetchResult{}, false, fmt.Errorf("build request: %w", err)
	}
	applyHeaders(req.Header, opts.Headers)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return cache.FetchResult{}, isRetryableError(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBytes))
		return cache.FetchResult{StatusCode: resp.StatusCode}, isRetryableStatus(resp.StatusCode), nil
	}

	w, err := f.storage.Create(dest)
	if err != nil {
		return cache.FetchResult{}, false, fmt.Errorf("create %s: %w", dest, err)
	}

	var (
		dst    io.Writer = w
		hasher hash.Hash
	)
	if opts.MD5 {
		hasher = md5.New()
		dst = io.MultiWriter(w, hasher)
	}

	written, err := copyWithContext(ctx, dst, resp.Body)
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return cache.FetchResult{}, isRetryableError(err), fmt.Errorf("download %s: %w", uri, err)
	}

	result := cache.FetchResult{
		StatusCode: resp.StatusCode,
		SizeBytes:  written,
	}
	if hasher != nil {
		result.MD5 = hex.EncodeToString(hasher.Sum(nil))
	}
	return result, false, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// copyWithContext 按块复制并在每次读取前检查 ctx，避免取消后继续写盘。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
