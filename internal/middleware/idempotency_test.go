package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smsauth/smsauth/internal/auth"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/logging"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func setupIdempotencyApp(t *testing.T, calls *int32, fail *atomic.Bool) *fiber.App {
	t.Helper()
	cache, _ := newRedis(t)

	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(calls, 1)
		if fail != nil && fail.Load() {
			return fiber.NewError(fiber.StatusBadGateway, "upstream failed")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	return app
}

func post(t *testing.T, app *fiber.App, key string) (int, string) {
	t.Helper()
	return postBody(t, app, key, "{}", "")
}

func postBody(t *testing.T, app *fiber.App, key, body, caller string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	var calls int32
	app := setupIdempotencyApp(t, &calls, nil)

	status, _ := post(t, app, "")
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = post(t, app, "")
	require.Equal(t, fiber.StatusCreated, status)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	var calls int32
	app := setupIdempotencyApp(t, &calls, nil)

	status, first := post(t, app, "abc123")
	require.Equal(t, fiber.StatusCreated, status)

	status, second := post(t, app, "abc123")
	require.Equal(t, fiber.StatusCreated, status)
	require.JSONEq(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	var calls int32
	var fail atomic.Bool
	fail.Store(true)
	app := setupIdempotencyApp(t, &calls, &fail)

	status, _ := post(t, app, "retry-me")
	require.Equal(t, fiber.StatusBadGateway, status)

	fail.Store(false)
	status, _ = post(t, app, "retry-me")
	require.Equal(t, fiber.StatusCreated, status)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	status, _ := post(t, app, "abc")
	require.Equal(t, fiber.StatusNoContent, status)
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls int32
	app := setupIdempotencyApp(t, &calls, nil)

	status, _ := postBody(t, app, "shared", `{"phone":"13800000000"}`, "")
	require.Equal(t, fiber.StatusCreated, status)

	status, body := postBody(t, app, "shared", `{"phone":"13900000000"}`, "")
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.NotContains(t, body, "13800000000")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotencyKeysAreScopedToPrincipal(t *testing.T) {
	cache, _ := newRedis(t)
	var calls int32

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if caller := c.Get("X-Caller"); caller != "" {
			auth.SetPrincipal(c, auth.Principal{ID: caller, Role: identity.RoleUser})
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n, "caller": c.Get("X-Caller")})
	})

	status, alice := postBody(t, app, "k1", "{}", "alice")
	require.Equal(t, fiber.StatusCreated, status)
	status, bob := postBody(t, app, "k1", "{}", "bob")
	require.Equal(t, fiber.StatusCreated, status)
	require.NotEqual(t, alice, bob)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))

	status, again := postBody(t, app, "k1", "{}", "alice")
	require.Equal(t, fiber.StatusCreated, status)
	require.JSONEq(t, alice, again)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
