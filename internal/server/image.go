package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
)

type imageHandler struct {
	coord   *cache.Coordinator
	storage cache.Storage
	logger  *logrus.Logger
	headers map[string]string
}

// Handle 解析 ?uri= 对应的本地缓存文件并直接回写正文。
func (h *imageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	uri := strings.TrimSpace(c.Query("uri"))
	if uri == "" {
		return writeError(c, fiber.StatusBadRequest, "uri_required")
	}
	withMD5, _ := strconv.ParseBool(c.Query("md5"))
	opts := cache.Options{Headers: h.headers, MD5: withMD5}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entry := h.coord.Get(uri, opts)
	localPath, ok, err := entry.Path(ctx)
	if err != nil {
		h.logResult(c, uri, "", started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	if !ok {
		h.logResult(c, uri, "", started, nil)
		return writeError(c, fiber.StatusNotFound, "upstream_unavailable")
	}

	reader, err := h.storage.Open(localPath)
	if err != nil {
		h.logResult(c, uri, localPath, started, err)
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("open cache failed: %v", err))
	}
	defer reader.Close()

	if info, statErr := h.storage.Stat(localPath); statErr == nil && info.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(info.SizeBytes))
	}
	c.Set("Content-Type", contentTypeFor(localPath))
	c.Set("X-Imgcache-Path", localPath)
	if sum := entry.MD5(); sum != "" {
		c.Set("X-Imgcache-MD5", sum)
	}
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		h.logResult(c, uri, localPath, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), reader)
	h.logResult(c, uri, localPath, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *imageHandler) logResult(c fiber.Ctx, uri, localPath string, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "image",
		"uri":        uri,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if localPath != "" {
		fields["path"] = localPath
	}
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("image_failed")
		return
	}
	if localPath == "" {
		h.logger.WithFields(fields).Warn("image_unavailable")
		return
	}
	h.logger.WithFields(fields).Info("image_served")
}

// contentTypeFor 根据缓存文件扩展名推断 Content-Type。
func contentTypeFor(localPath string) string {
	switch strings.ToLower(path.Ext(localPath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".bmp":
		return "image/bmp"
	case ".ico":
		return "image/x-icon"
	case ".avif":
		return "image/avif"
	case ".heic":
		return "image/heic"
	}
	return "application/octet-stream"
}
