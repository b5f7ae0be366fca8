package middleware

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smsauth/smsauth/internal/codec"
	"github.com/smsauth/smsauth/internal/logging"
)

func newPhoneCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(bytes.Repeat([]byte{7}, codec.KeySize))
	require.NoError(t, err)
	return c
}

func sendPhone(t *testing.T, app *fiber.App, phone string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/send", strings.NewReader(`{"phone":"`+phone+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode, resp.Header.Get(fiber.HeaderRetryAfter)
}

func okHandler(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

func TestRateLimitPerPhone(t *testing.T) {
	cache, mr := newRedis(t)
	app := fiber.New()
	app.Post("/send", RateLimit(cache, newPhoneCodec(t), "send", 2, time.Minute, logging.Discard()), okHandler)

	for i := 0; i < 2; i++ {
		status, _ := sendPhone(t, app, "13800000000")
		require.Equal(t, fiber.StatusOK, status)
	}
	status, retry := sendPhone(t, app, "13800000000")
	require.Equal(t, fiber.StatusTooManyRequests, status)
	require.Equal(t, "60", retry)

	status, _ = sendPhone(t, app, "13900000000")
	require.Equal(t, fiber.StatusOK, status)

	mr.FastForward(time.Minute + time.Second)
	status, _ = sendPhone(t, app, "13800000000")
	require.Equal(t, fiber.StatusOK, status)
}

func TestRateLimitKeysNeverContainPlaintextPhone(t *testing.T) {
	cache, mr := newRedis(t)
	phones := newPhoneCodec(t)
	app := fiber.New()
	app.Post("/send", RateLimit(cache, phones, "login", 5, time.Minute, logging.Discard()), okHandler)

	status, _ := sendPhone(t, app, "13800000000")
	require.Equal(t, fiber.StatusOK, status)

	keys := mr.Keys()
	require.Equal(t, []string{"rl:login:phone:" + phones.Hash("13800000000")}, keys)
	for _, k := range keys {
		require.NotContains(t, k, "13800000000")
	}
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	cache, mr := newRedis(t)
	app := fiber.New()
	app.Post("/send", RateLimit(cache, newPhoneCodec(t), "send", 1, time.Minute, logging.Discard()), okHandler)

	status, _ := sendPhone(t, app, "")
	require.Equal(t, fiber.StatusOK, status)
	status, _ = sendPhone(t, app, "")
	require.Equal(t, fiber.StatusTooManyRequests, status)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "rl:send:ip:"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { cache.Close() })
	app := fiber.New()
	app.Post("/send", RateLimit(cache, newPhoneCodec(t), "send", 1, time.Minute, logging.Discard()), okHandler)
	mr.Close()

	for i := 0; i < 3; i++ {
		status, _ := sendPhone(t, app, "13800000000")
		require.Equal(t, fiber.StatusOK, status)
	}
}

func TestRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/send", RateLimit(nil, newPhoneCodec(t), "send", 1, time.Minute, logging.Discard()), okHandler)

	for i := 0; i < 3; i++ {
		status, _ := sendPhone(t, app, "13800000000")
		require.Equal(t, fiber.StatusOK, status)
	}
}
