package middleware

import (
	"estatevault-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const userLocal = "user"

// Actor is the authenticated caller as written into the session by the
// identity service.
type Actor struct {
	UserID    uuid.UUID
	Role      string
	KycStatus string
	Email     string
}

// RequireAuth ensures a user is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetActor(c) == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// GetUser returns the session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}

// GetActor parses the session user. It returns nil when there is no user or
// its user_id is not a UUID.
func GetActor(c *fiber.Ctx) *Actor {
	m, ok := GetUser(c).(map[string]interface{})
	if !ok {
		return nil
	}
	raw, _ := m["user_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	a := &Actor{UserID: id}
	a.Role, _ = m["role"].(string)
	a.KycStatus, _ = m["kyc_status"].(string)
	a.Email, _ = m["email"].(string)
	return a
}
