package transactions

import (
	txsvc "estatevault-backend/internal/application/transactions"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/response"
	"estatevault-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *txsvc.Service
}

// GetTransactions GET /api/v1/transactions/get-transactions?type=&property_id=&limit=&offset=
func (h *Handlers) GetTransactions(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	propertyID, err := validation.OptionalUUID("property_id", c.Query("property_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	limit, offset := validation.Page(c.Query("limit"), c.Query("offset"))

	data, err := h.Service.GetTransactions(c.UserContext(), actor.UserID, txsvc.Filter{
		Type:       c.Query("type"),
		PropertyID: propertyID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transactions fetched successfully", data, nil)
}
