package middleware

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs every request outside skipPrefix with its status and
// latency.
func RequestLogger(logger *slog.Logger, skipPrefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if skipPrefix != "" && strings.HasPrefix(path, skipPrefix) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		logger.Info("http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}
