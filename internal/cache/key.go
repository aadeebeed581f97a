package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DefaultExtension 在 URI 文件名段不含 "." 时使用。
const DefaultExtension = ".jpg"

// Key 描述一个 URI 在磁盘上的最终位置与本次下载使用的暂存位置。
type Key struct {
	CanonicalPath string
	StagingPath   string
}

// KeyDeriver 将 URI 映射为确定性的缓存路径，不做任何 I/O。
type KeyDeriver struct {
	baseDir string
	token   func() string
}

// NewKeyDeriver 以 baseDir 为缓存根目录构造 KeyDeriver，暂存文件后缀使用随机 UUID。
func NewKeyDeriver(baseDir string) KeyDeriver {
	return KeyDeriver{
		baseDir: baseDir,
		token:   uuid.NewString,
	}
}

// BaseDir 返回缓存根目录。
func (d KeyDeriver) BaseDir() string {
	return d.baseDir
}

// Derive 计算 uri 的 canonical/staging 路径。CanonicalPath 只取决于 uri 本身；
// StagingPath 每次调用都不同，保证同一 URI 的并发下载不会写同一个文件。
func (d KeyDeriver) Derive(uri string) Key {
	sum := sha1.Sum([]byte(uri))
	name := hex.EncodeToString(sum[:])
	ext := extensionOf(uri)
	return Key{
		CanonicalPath: path.Join(d.baseDir, name+ext),
		StagingPath:   path.Join(d.baseDir, name+"-"+d.token()+ext),
	}
}

// extensionOf 取最后一个 "/" 到 "?" 之间的文件名段，再取其中最后一个 "." 之后的部分。
func extensionOf(uri string) string {
	start := strings.LastIndex(uri, "/")
	if start < 0 {
		start = 0
	}
	end := len(uri)
	if idx := strings.Index(uri, "?"); idx >= 0 {
		end = idx
	}
	// "?" 早于最后一个 "/" 时（如 ?next=/b.png）文件名段为空，不取查询串里的扩展名。
	if end < start {
		return DefaultExtension
	}
	segment := uri[start:end]
	dot := strings.LastIndex(segment, ".")
	if dot < 0 {
		return DefaultExtension
	}
	return segment[dot:]
}
