package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/smsauth/smsauth/internal/auth"
	"github.com/smsauth/smsauth/internal/config"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/middleware"
	"github.com/smsauth/smsauth/internal/notification"
	"github.com/smsauth/smsauth/internal/response"
	"github.com/smsauth/smsauth/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	Repo    identity.Repository
	Codec   verification.PhoneCodec
	Gateway notification.Gateway
	Cache   *redis.Client
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Repo == nil || d.Codec == nil || d.Gateway == nil {
		return fmt.Errorf("identity store, codec and gateway are required")
	}
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	codes := verification.NewService(d.Cfg.VerificationConfig(), verification.Deps{
		Repo:    d.Repo,
		Codec:   d.Codec,
		Gateway: d.Gateway,
		Clock:   d.Clock,
		Logger:  d.Logger,
	})
	tokens := auth.NewTokenIssuer(d.Cfg.TokenConfig(), d.Clock)
	authSvc := auth.NewService(codes, tokens, d.Logger)
	h := auth.NewHandler(authSvc, codes, d.Repo)

	api := app.Group("/api")
	api.Get("/v1/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	public := middleware.Authorize(middleware.Public, tokens, d.Repo)
	authenticated := middleware.Authorize(middleware.Authenticated, tokens, d.Repo)
	adminOnly := middleware.Authorize(middleware.AdminOnly, tokens, d.Repo)
	limit := func(scope string) fiber.Handler {
		return middleware.RateLimit(d.Cache, d.Codec, scope, d.Cfg.AuthRatePerMin, time.Minute, d.Logger)
	}
	// Replay is limited to send-code: its response carries neither a token
	// nor identity data.
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	authGroup := api.Group("/auth", public)
	authGroup.Post("/send-code", limit("send-code"), idempotent, h.SendCode)
	authGroup.Post("/login", limit("login"), h.Login)

	users := api.Group("/users", authenticated)
	users.Get("/me", h.Me)
	users.Post("/me/registration", h.CompleteRegistration)

	admin := api.Group("/admin", adminOnly)
	admin.Post("/identities/:id/deactivate", h.Deactivate)

	app.Use(func(c *fiber.Ctx) error {
		return response.Fail(c, http.StatusNotFound, "route not found", nil)
	})
	return nil
}
