package auth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// Handler serves the authentication endpoints. Users and refresh tokens are
// plain collections so the handler works against either backing store.
type Handler struct {
	users  store.Collection
	tokens store.Collection
	secret string
}

func NewHandler(users, tokens store.Collection, secret string) *Handler {
	return &Handler{users: users, tokens: tokens, secret: secret}
}

// Register handles POST /api/auth/register. Self-registration is limited to
// the customer and agent roles.
func (h *Handler) Register(c *fiber.Ctx) error {
	var body struct {
		Name     string `json:"name"`
		Mobile   string `json:"mobile"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.BodyParser(&body); err != nil {
		return resource.NewAppError("VALIDATION_FAILED", 400, "Invalid request body")
	}
	if body.Mobile == "" || body.Password == "" {
		return resource.ValidationError([]resource.ErrorDetail{
			{Field: "mobile", Rule: "required", Message: "mobile and password are required"},
		})
	}
	if body.Role == "" {
		body.Role = resource.RoleCustomer
	}
	if body.Role != resource.RoleCustomer && body.Role != resource.RoleAgent {
		return resource.ForbiddenError("Cannot register with this role")
	}

	ctx := c.Context()
	existing, err := h.users.Find(ctx, store.Filter{"mobile": body.Mobile}, store.FindOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return resource.ConflictError("An account with this mobile already exists")
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return err
	}
	user, err := h.users.Insert(ctx, store.Record{
		"name":      body.Name,
		"mobile":    body.Mobile,
		"email":     body.Email,
		"password":  hash,
		"role":      body.Role,
		"isBlocked": false,
	})
	if err != nil {
		return err
	}

	delete(user, "password")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registered",
		"data":    user,
	})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Mobile   string `json:"mobile"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return resource.NewAppError("VALIDATION_FAILED", 400, "Invalid request body")
	}
	if body.Mobile == "" || body.Password == "" {
		return resource.UnauthenticatedError("Mobile and password are required")
	}

	ctx := c.Context()
	matches, err := h.users.Find(ctx, store.Filter{"mobile": body.Mobile}, store.FindOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return resource.UnauthenticatedError("Invalid mobile or password")
	}
	user := matches[0]

	hash, _ := user["password"].(string)
	if !CheckPassword(body.Password, hash) {
		return resource.UnauthenticatedError("Invalid mobile or password")
	}
	if blocked, _ := user["isBlocked"].(bool); blocked {
		return resource.ForbiddenError("Account is blocked")
	}

	userID, _ := user["id"].(string)
	role, _ := user["role"].(string)
	pair, err := h.issueTokenPair(ctx, userID, role)
	if err != nil {
		return err
	}

	delete(user, "password")
	return c.JSON(fiber.Map{"data": fiber.Map{"tokens": pair, "user": user}})
}

// Refresh handles POST /api/auth/refresh. Used tokens are rotated.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return resource.NewAppError("VALIDATION_FAILED", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return resource.UnauthenticatedError("Refresh token is required")
	}

	ctx := c.Context()
	row, err := h.tokens.FindOneAndDelete(ctx, store.Filter{"token": body.RefreshToken})
	if err != nil {
		return resource.UnauthenticatedError("Invalid refresh token")
	}

	expiresAt, _ := row["expiresAt"].(string)
	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || time.Now().After(exp) {
		return resource.UnauthenticatedError("Refresh token expired")
	}

	userID, _ := row["user"].(string)
	user, err := h.users.FindByID(ctx, userID)
	if err != nil {
		return resource.UnauthenticatedError("Invalid refresh token")
	}
	if blocked, _ := user["isBlocked"].(bool); blocked {
		return resource.ForbiddenError("Account is blocked")
	}

	role, _ := user["role"].(string)
	pair, err := h.issueTokenPair(ctx, userID, role)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return resource.NewAppError("VALIDATION_FAILED", 400, "Invalid request body")
	}
	if body.RefreshToken != "" {
		_, _ = h.tokens.FindOneAndDelete(c.Context(), store.Filter{"token": body.RefreshToken})
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Register mounts the auth routes on the given router.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
}

func (h *Handler) issueTokenPair(ctx context.Context, userID, role string) (*TokenPair, error) {
	access, err := GenerateAccessToken(userID, role, h.secret)
	if err != nil {
		return nil, resource.NewAppError("INTERNAL", 500, "Failed to generate access token")
	}

	refresh := GenerateRefreshToken()
	_, err = h.tokens.Insert(ctx, store.Record{
		"user":      userID,
		"token":     refresh,
		"expiresAt": time.Now().Add(RefreshTokenTTL).UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, resource.NewAppError("INTERNAL", 500, "Failed to store refresh token")
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
