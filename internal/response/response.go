// Package response renders the JSON envelope shared by every endpoint.
package response

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Envelope wraps every JSON body.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// OK writes a successful envelope.
func OK(c *fiber.Ctx, status int, message string, data any) error {
	return write(c, status, true, message, data)
}

// Fail writes a failed envelope.
func Fail(c *fiber.Ctx, status int, message string, data any) error {
	return write(c, status, false, message, data)
}

func write(c *fiber.Ctx, status int, success bool, message string, data any) error {
	return c.Status(status).JSON(Envelope{
		Success:   success,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
