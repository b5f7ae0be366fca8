package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/smsauth/smsauth/internal/identity"
)

const principalKey = "auth.principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	ID   string
	Role identity.Role
}

// SetPrincipal stores p on the request.
func SetPrincipal(c *fiber.Ctx, p Principal) {
	c.Locals(principalKey, p)
}

// PrincipalFrom returns the caller stored by SetPrincipal.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalKey).(Principal)
	return p, ok
}
