package response

import (
	"estatevault-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
)

// FromError renders a ledger error with its status and code. Errors without
// a ledger code become a plain 500.
func FromError(c *fiber.Ctx, err error) error {
	if de, ok := domain.AsError(err); ok {
		msg := err.Error()
		if de.Status >= fiber.StatusInternalServerError {
			msg = de.Message
		}
		return Error(c, msg, de.Status, fiber.Map{"code": de.Code})
	}
	return Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
}
