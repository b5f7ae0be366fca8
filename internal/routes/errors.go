package routes

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/smsauth/smsauth/internal/response"
)

// ErrorHandler renders errors returned by handlers as the JSON envelope.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		f := response.Resolve(err)
		switch {
		case !f.Known:
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		case f.Status >= http.StatusInternalServerError:
			logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		}

		if f.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(f.RetryAfter))
			return response.Fail(c, f.Status, f.Message, fiber.Map{"remaining_seconds": f.RetryAfter})
		}
		return response.Fail(c, f.Status, f.Message, nil)
	}
}
