package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
)

// AppOptions 描述构建 Fiber 应用所需的依赖。
type AppOptions struct {
	Logger      *logrus.Logger
	Coordinator *cache.Coordinator
	Storage     cache.Storage
	// Headers 来自配置 [Cache.Headers]，附加到每一次上游请求。
	Headers map[string]string
}

const contextKeyRequestID = "_imgcache_request_id"

// NewApp builds a Fiber application with request-id/access-log middleware and
// the image endpoint. Diagnostics routes are registered separately.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("cache coordinator is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	images := &imageHandler{
		coord:   opts.Coordinator,
		storage: opts.Storage,
		logger:  opts.Logger,
		headers: opts.Headers,
	}
	app.Get("/image", images.Handle)

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后写访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		fields := logging.RequestFields(c.Method(), string(c.Request().URI().Path()), reqID, c.Response().StatusCode())
		fields["action"] = "http_request"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Warn("request_failed")
			return err
		}
		logger.WithFields(fields).Debug("request_complete")
		return nil
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
