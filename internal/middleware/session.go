package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SessionRequired extracts the participant identity forwarded by the
// authenticating proxy. Exactly one of the homeowner or worker identity is
// active per session; this component never reads it from ambient state.
func SessionRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := strings.TrimSpace(c.Get("X-Session-Email"))
		if email == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing session identity",
			})
		}

		role := strings.ToLower(strings.TrimSpace(c.Get("X-Session-Role")))
		if role != "homeowner" && role != "worker" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid session role",
			})
		}

		c.Locals("session_email", email)
		c.Locals("session_role", role)

		return c.Next()
	}
}
