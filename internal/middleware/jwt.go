package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_custody/internal/auth"
)

const (
	localUserID = "user_id"
	localRole   = "role"
)

// JWTAuth validates the bearer token and stores the principal in Locals.
func JWTAuth(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		p, err := auth.Parse(strings.TrimSpace(authz[len("Bearer "):]), key)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(localUserID, p.UserID)
		c.Locals(localRole, p.Role)
		return c.Next()
	}
}

// RequireRole rejects principals whose role is not in roles.
func RequireRole(roles ...auth.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := Principal(c)
		for _, r := range roles {
			if p.Role == r {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}

// Principal returns the caller set by JWTAuth.
func Principal(c *fiber.Ctx) auth.Principal {
	uid, _ := c.Locals(localUserID).(string)
	role, _ := c.Locals(localRole).(auth.Role)
	return auth.Principal{UserID: uid, Role: role}
}
