package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls the diagnostics application.
type AppOptions struct {
	Logger    *logrus.Logger
	AdminPort int
}

const contextKeyRequestID = "_cacheproxy_request_id"

// NewApp builds the Fiber diagnostics application with request IDs, panic
// recovery and a health endpoint. Cache routes are registered by the routes
// package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.AdminPort <= 0 || opts.AdminPort > 65535 {
		return nil, fmt.Errorf("invalid admin port: %d", opts.AdminPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app, nil
}

// requestContextMiddleware 为每个诊断请求生成请求 ID，并记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "admin_request",
			"request_id": reqID,
			"path":       string(c.Request().URI().Path()),
			"status":     c.Response().StatusCode(),
		}).Debug("diagnostics request")
		return err
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
