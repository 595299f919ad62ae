package borrow

import (
	"fmt"
	"strings"

	"estatevault-backend/internal/application/lending"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/response"
	"estatevault-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *lending.Service
}

type collateralBody struct {
	PropertyID string `json:"property_id"`
	TokenID    string `json:"token_id"`
	Amount     int64  `json:"amount"`
}

func parseCollateral(items []collateralBody) ([]lending.CollateralItem, error) {
	out := make([]lending.CollateralItem, 0, len(items))
	for _, item := range items {
		id, err := validation.UUID("collateral.property_id", item.PropertyID)
		if err != nil {
			return nil, err
		}
		if item.TokenID != "" && !validation.IsValidTokenID(item.TokenID) {
			return nil, fmt.Errorf("%w: collateral.token_id must be a decimal token id", domain.ErrInvalidInput)
		}
		out = append(out, lending.CollateralItem{PropertyID: id, TokenID: item.TokenID, Amount: item.Amount})
	}
	return out, nil
}

// Estimate POST /api/v1/borrow/estimate
func (h *Handlers) Estimate(c *fiber.Ctx) error {
	var body struct {
		Collateral   []collateralBody `json:"collateral"`
		BorrowAmount *decimal.Decimal `json:"borrow_amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	items, err := parseCollateral(body.Collateral)
	if err != nil {
		return response.FromError(c, err)
	}
	est, err := h.Service.Estimate(c.UserContext(), items, body.BorrowAmount)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Estimate calculated", est, nil)
}

// OpenPosition POST /api/v1/borrow/open-position
func (h *Handlers) OpenPosition(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		Collateral   []collateralBody `json:"collateral"`
		BorrowAmount decimal.Decimal  `json:"borrow_amount"`
		Disbursement string           `json:"disbursement"`
		Destination  string           `json:"destination"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	items, err := parseCollateral(body.Collateral)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := validation.PositiveAmount("borrow_amount", body.BorrowAmount); err != nil {
		return response.FromError(c, err)
	}

	res, err := h.Service.OpenPosition(c.UserContext(), lending.OpenRequest{
		UserID:       actor.UserID,
		KycStatus:    actor.KycStatus,
		Collateral:   items,
		BorrowAmount: body.BorrowAmount,
		Disbursement: strings.ToUpper(body.Disbursement),
		Destination:  body.Destination,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Borrow position opened", res, nil)
}

// Repay POST /api/v1/borrow/repay
func (h *Handlers) Repay(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		PositionID    string          `json:"position_id"`
		Amount        decimal.Decimal `json:"amount"`
		Source        string          `json:"source"`
		PaymentSource string          `json:"payment_source"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	positionID, err := validation.UUID("position_id", body.PositionID)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := validation.PositiveAmount("amount", body.Amount); err != nil {
		return response.FromError(c, err)
	}

	res, err := h.Service.Repay(c.UserContext(), lending.RepayRequest{
		UserID:        actor.UserID,
		PositionID:    positionID,
		Amount:        body.Amount,
		Source:        strings.ToUpper(body.Source),
		PaymentSource: body.PaymentSource,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Repayment recorded"
	if res.Repayment.IsFullRepayment {
		msg = "Loan fully repaid"
	}
	return response.Success(c, msg, res, nil)
}

// ViewPositions GET /api/v1/borrow/view-positions
func (h *Handlers) ViewPositions(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	data, err := h.Service.ListPositions(c.UserContext(), actor.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Positions fetched successfully", data, nil)
}

// ViewPosition GET /api/v1/borrow/view-position/:position_id
func (h *Handlers) ViewPosition(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	positionID, err := validation.UUID("position_id", c.Params("position_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	data, err := h.Service.GetPosition(c.UserContext(), actor.UserID, positionID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Position fetched successfully", data, nil)
}
