package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// Middleware returns a Fiber middleware that validates the bearer token,
// checks the account is not blocked, and sets the Actor on the request.
//
// The user record is re-read on every request so that blocking an account
// takes effect immediately instead of at token expiry.
func Middleware(users store.Collection, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return resource.UnauthenticatedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return resource.UnauthenticatedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return resource.UnauthenticatedError("Invalid or expired token")
		}

		user, err := users.FindByID(c.Context(), claims.Subject)
		if err != nil {
			return resource.UnauthenticatedError("Invalid or expired token")
		}
		if blocked, _ := user["isBlocked"].(bool); blocked {
			return resource.ForbiddenError("Account is blocked")
		}

		role, _ := user["role"].(string)
		c.Locals("actor", &resource.Actor{ID: claims.Subject, Role: role})

		return c.Next()
	}
}

// RequireRole gates a route group to a single role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := resource.ActorFromCtx(c)
		if actor == nil {
			return resource.UnauthenticatedError("Missing auth token")
		}
		if actor.Role != role {
			return resource.ForbiddenError("Insufficient permissions")
		}
		return c.Next()
	}
}
