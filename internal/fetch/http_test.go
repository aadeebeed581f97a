package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
)

const stagingPath = "/cache/abc-staging.png"

func newTestFetcher(t *testing.T, retries int) (*HTTPFetcher, cache.Storage) {
	t.Helper()
	storage := cache.NewMemoryStorage()
	fetcher, err := NewHTTPFetcher(NewUpstreamClient(5*time.Second), storage, logging.NewDiscardLogger(), RetryOptions{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return fetcher, storage
}

func readStorage(t *testing.T, storage cache.Storage, path string) string {
	t.Helper()
	f, err := storage.Open(path)
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(body)
}

func TestFetchWritesBodyAndForwardsHeaders(t *testing.T) {
	seen := make(chan http.Header, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		_, _ = io.WriteString(w, "png-bytes")
	}))
	defer upstream.Close()

	fetcher, storage := newTestFetcher(t, 0)
	result, err := fetcher.Fetch(context.Background(), upstream.URL+"/a.png", stagingPath, cache.Options{
		Headers: map[string]string{"Authorization": "Bearer token", "Connection": "close"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.EqualValues(t, len("png-bytes"), result.SizeBytes)
	assert.Empty(t, result.MD5, "md5 is only computed on request")
	got := <-seen
	assert.Equal(t, "Bearer token", got.Get("Authorization"))
	assert.Equal(t, userAgent, got.Get("User-Agent"))
	assert.Equal(t, "png-bytes", readStorage(t, storage, stagingPath))
}

func TestFetchComputesMD5Hint(t *testing.T) {
	payload := "checksum-me"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer upstream.Close()

	fetcher, _ := newTestFetcher(t, 0)
	result, err := fetcher.Fetch(context.Background(), upstream.URL, stagingPath, cache.Options{MD5: true})
	require.NoError(t, err)

	sum := md5.Sum([]byte(payload))
	assert.Equal(t, hex.EncodeToString(sum[:]), result.MD5)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	fetcher, storage := newTestFetcher(t, 3)
	result, err := fetcher.Fetch(context.Background(), upstream.URL, stagingPath, cache.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.EqualValues(t, 1, hits.Load())

	exists, err := storage.Exists(stagingPath)
	require.NoError(t, err)
	assert.False(t, exists, "non-2xx responses must not be written")
}

func TestFetchRetriesServiceUnavailable(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	fetcher, storage := newTestFetcher(t, 2)
	result, err := fetcher.Fetch(context.Background(), upstream.URL, stagingPath, cache.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, "ok", readStorage(t, storage, stagingPath))
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	fetcher, _ := newTestFetcher(t, 1)
	result, err := fetcher.Fetch(context.Background(), upstream.URL, stagingPath, cache.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchTransportErrorPropagates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	fetcher, _ := newTestFetcher(t, 0)
	_, err := fetcher.Fetch(context.Background(), target, stagingPath, cache.Options{})
	require.Error(t, err)
}

func TestFetchStopsRetryingWhenContextCancelled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	storage := cache.NewMemoryStorage()
	fetcher, err := NewHTTPFetcher(nil, storage, logging.NewDiscardLogger(), RetryOptions{
		MaxRetries:     5,
		InitialBackoff: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = fetcher.Fetch(ctx, upstream.URL, stagingPath, cache.Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPFetcherRequiresStorage(t *testing.T) {
	_, err := NewHTTPFetcher(nil, nil, nil, RetryOptions{})
	require.Error(t, err)
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 410} {
		assert.False(t, isRetryableStatus(code), "status %d", code)
	}
}
