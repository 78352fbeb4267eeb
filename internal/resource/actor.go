package resource

import "github.com/gofiber/fiber/v2"

const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// Actor is the authenticated identity performing a request, set by the auth
// middleware. It lives for one request and is never persisted.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

func (a *Actor) IsAgent() bool {
	return a != nil && a.Role == RoleAgent
}

func (a *Actor) IsCustomer() bool {
	return a != nil && a.Role == RoleCustomer
}

// ActorFromCtx extracts the Actor from a Fiber context, or nil.
func ActorFromCtx(c *fiber.Ctx) *Actor {
	actor, _ := c.Locals("actor").(*Actor)
	return actor
}
