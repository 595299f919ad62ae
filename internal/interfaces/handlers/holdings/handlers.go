package holdings

import (
	"errors"
	"strconv"

	"estatevault-backend/internal/application/funds"
	holdsvc "estatevault-backend/internal/application/holdings"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/response"
	"estatevault-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	Service *holdsvc.Service
	Intents funds.IntentCreator
}

// ViewHoldings GET /api/v1/holdings/view-holdings
func (h *Handlers) ViewHoldings(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	data, err := h.Service.ViewHoldings(c.UserContext(), actor.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Holdings fetched successfully", data, nil)
}

// PurchaseIntent POST /api/v1/holdings/purchase-intent. The holding is
// recorded when Stripe confirms the payment.
func (h *Handlers) PurchaseIntent(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		PropertyID string `json:"property_id"`
		Quantity   int64  `json:"quantity"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	propertyID, err := validation.UUID("property_id", body.PropertyID)
	if err != nil {
		return response.FromError(c, err)
	}
	prop, total, err := h.Service.Quote(c.UserContext(), propertyID, body.Quantity)
	if err != nil {
		return response.FromError(c, err)
	}
	if h.Intents == nil {
		return response.Error(c, "Stripe not configured", fiber.StatusInternalServerError, nil)
	}

	pi, err := h.Intents.CreateIntent(c.UserContext(), total, map[string]string{
		"purpose":     domain.PaymentPurposeTokenPurchase,
		"user_id":     actor.UserID.String(),
		"property_id": prop.PropertyID.String(),
		"quantity":    strconv.FormatInt(body.Quantity, 10),
		"unit_price":  prop.TokenPrice.String(),
	})
	if err != nil {
		if errors.Is(err, funds.ErrNotConfigured) {
			return response.Error(c, "Stripe integration pending", fiber.StatusNotImplemented, nil)
		}
		log.Warn().Err(err).Str("property_id", prop.PropertyID.String()).Msg("purchase intent failed")
		return response.Error(c, "Payment provider error", fiber.StatusBadGateway, nil)
	}
	return response.Success(c, "Payment intent created", fiber.Map{
		"payment_intent_id": pi.ID,
		"client_secret":     pi.ClientSecret,
		"amount":            total,
		"unit_price":        prop.TokenPrice,
	}, nil)
}
