package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/smsauth/smsauth/internal/auth"
	"github.com/smsauth/smsauth/internal/identity"
)

// Policy is the access rule declared for a route.
type Policy int

const (
	// Public routes need no token.
	Public Policy = iota
	// Authenticated routes need a valid token for an active identity.
	Authenticated
	// AdminOnly routes additionally need the admin role.
	AdminOnly
)

func (p Policy) String() string {
	switch p {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case AdminOnly:
		return "admin"
	default:
		return "unknown"
	}
}

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// IdentityFinder loads active identities.
type IdentityFinder interface {
	FindByID(ctx context.Context, id string) (identity.Identity, error)
}

// Authorize enforces policy. The role is taken from the stored identity rather
// than the token, so deactivation and role changes apply to tokens already issued.
func Authorize(policy Policy, tokens TokenParser, ids IdentityFinder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if policy == Public {
			return c.Next()
		}

		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid or expired token")
		}

		ident, err := ids.FindByID(c.UserContext(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return fiber.NewError(http.StatusUnauthorized, "identity not found or disabled")
			}
			return err
		}
		if policy == AdminOnly && ident.Role != identity.RoleAdmin {
			return fiber.NewError(http.StatusForbidden, "admin role required")
		}

		auth.SetPrincipal(c, auth.Principal{ID: ident.ID, Role: ident.Role})
		return c.Next()
	}
}
