package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:"

// PhoneHasher derives the lookup hash used in place of a plaintext phone.
type PhoneHasher interface {
	Hash(phone string) string
}

// RateLimit caps requests per phone (or client IP when the body has no phone)
// within a fixed window, counted in Redis. Phones only reach Redis as their
// lookup hash. Without Redis, or when Redis errors, requests pass through.
func RateLimit(cache *redis.Client, phones PhoneHasher, scope string, limit int, window time.Duration, logger *slog.Logger) fiber.Handler {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Phone string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		subject := "ip:" + c.IP()
		if phone := strings.TrimSpace(req.Phone); phone != "" {
			subject = "phone:" + phones.Hash(phone)
		}
		key := rateLimitPrefix + scope + ":" + subject

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, window)
		}
		if cnt > int64(limit) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int((ttl+time.Second-1)/time.Second)))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
