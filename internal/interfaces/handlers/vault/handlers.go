package vault

import (
	"errors"

	"estatevault-backend/internal/application/funds"
	vaultsvc "estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/response"
	"estatevault-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *vaultsvc.Service
	Intents funds.IntentCreator
}

// ViewVault GET /api/v1/vault/view-vault
func (h *Handlers) ViewVault(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	view, err := h.Service.GetVault(c.UserContext(), actor.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Vault fetched successfully", view, nil)
}

// LinkWallet PATCH /api/v1/vault/link-wallet
func (h *Handlers) LinkWallet(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.BodyParser(&body); err != nil || body.WalletAddress == "" {
		return response.Error(c, "wallet_address is required", fiber.StatusBadRequest, nil)
	}
	view, err := h.Service.LinkWallet(c.UserContext(), actor.UserID, body.WalletAddress)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Wallet linked successfully", view, nil)
}

// Reset POST /api/v1/vault/reset
func (h *Handlers) Reset(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	view, err := h.Service.Reset(c.UserContext(), actor.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Vault reset successfully", view, nil)
}

// CreateDepositIntent POST /api/v1/vault/create-deposit-intent. Only creates
// the Stripe PaymentIntent; the vault is credited by the webhook.
func (h *Handlers) CreateDepositIntent(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	if err := validation.PositiveAmount("amount", body.Amount); err != nil {
		return response.FromError(c, err)
	}
	if body.Amount.LessThan(decimal.New(1, -2)) {
		return response.Error(c, "Amount must be at least 0.01", fiber.StatusBadRequest, nil)
	}
	if h.Intents == nil {
		return response.Error(c, "Stripe not configured", fiber.StatusInternalServerError, nil)
	}

	pi, err := h.Intents.CreateIntent(c.UserContext(), body.Amount, map[string]string{
		"purpose": domain.PaymentPurposeVaultDeposit,
		"user_id": actor.UserID.String(),
		"amount":  body.Amount.StringFixed(2),
	})
	if err != nil {
		if errors.Is(err, funds.ErrNotConfigured) {
			return response.Error(c, "Stripe integration pending", fiber.StatusNotImplemented, nil)
		}
		log.Warn().Err(err).Str("user_id", actor.UserID.String()).Msg("deposit intent failed")
		return response.Error(c, "Payment provider error", fiber.StatusBadGateway, nil)
	}
	return response.Success(c, "Payment intent created", fiber.Map{
		"payment_intent_id": pi.ID,
		"client_secret":     pi.ClientSecret,
	}, nil)
}
