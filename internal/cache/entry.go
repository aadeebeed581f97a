package cache

import (
	"context"
	"maps"
	"sync"
)

// EntryState 描述条目最近一次解析的结果，仅供观测；每次解析都会重新检查磁盘。
type EntryState string

const (
	EntryPending   EntryState = "pending"
	EntryResolving EntryState = "resolving"
	EntryResolved  EntryState = "resolved"
	EntryFailed    EntryState = "failed"
)

// Entry 是注册表中某个 URI 的句柄。Options 在首次请求时确定，之后的请求沿用。
type Entry struct {
	uri   string
	opts  Options
	coord *Coordinator

	mu         sync.Mutex
	state      EntryState
	path       string
	md5        string
	lastStatus int
}

// EntrySnapshot 是 Entry 在某一时刻的只读副本，便于诊断接口输出。
type EntrySnapshot struct {
	URI        string     `json:"uri"`
	State      EntryState `json:"state"`
	Path       string     `json:"path,omitempty"`
	MD5        string     `json:"md5,omitempty"`
	LastStatus int        `json:"last_status,omitempty"`
}

func newEntry(coord *Coordinator, uri string, opts Options) *Entry {
	return &Entry{
		uri:   uri,
		opts:  cloneOptions(opts),
		coord: coord,
		state: EntryPending,
	}
}

// URI 返回条目对应的源地址。
func (e *Entry) URI() string {
	return e.uri
}

// Options 返回首次请求时记录的下载参数副本。
func (e *Entry) Options() Options {
	return cloneOptions(e.opts)
}

// State 返回最近一次解析的状态。
func (e *Entry) State() EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// MD5 返回最近一次下载记录的校验提示，未请求或尚未下载时为空。
func (e *Entry) MD5() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.md5
}

// Path 确保本地文件存在并返回其路径。ok 为 false 表示上游返回非 2xx，
// 此时不缓存任何内容；传输层错误通过 err 返回。
func (e *Entry) Path(ctx context.Context) (path string, ok bool, err error) {
	return e.coord.resolveEntry(ctx, e)
}

// Snapshot 返回当前状态的副本。
func (e *Entry) Snapshot() EntrySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EntrySnapshot{
		URI:        e.uri,
		State:      e.state,
		Path:       e.path,
		MD5:        e.md5,
		LastStatus: e.lastStatus,
	}
}

func (e *Entry) setState(state EntryState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Entry) markResolved(path, md5 string) {
	e.mu.Lock()
	e.state = EntryResolved
	e.path = path
	if md5 != "" {
		e.md5 = md5
	}
	e.mu.Unlock()
}

func (e *Entry) markFailed(status int) {
	e.mu.Lock()
	e.state = EntryFailed
	e.lastStatus = status
	e.mu.Unlock()
}

func cloneOptions(opts Options) Options {
	return Options{
		Headers: maps.Clone(opts.Headers),
		MD5:     opts.MD5,
	}
}

func optionsEqual(a, b Options) bool {
	return a.MD5 == b.MD5 && maps.Equal(a.Headers, b.Headers)
}
