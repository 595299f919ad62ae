package rent

import (
	"estatevault-backend/internal/application/distribution"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/response"
	"estatevault-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Rent   *distribution.RentService
	Runner distribution.Runner
}

// CreatePayment POST /api/v1/rent/create-payment
func (h *Handlers) CreatePayment(c *fiber.Ctx) error {
	var body struct {
		PropertyID           string           `json:"property_id"`
		PeriodStart          string           `json:"period_start"`
		PeriodEnd            string           `json:"period_end"`
		GrossAmount          decimal.Decimal  `json:"gross_amount"`
		ManagementFeePercent *decimal.Decimal `json:"management_fee_percent"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	propertyID, err := validation.UUID("property_id", body.PropertyID)
	if err != nil {
		return response.FromError(c, err)
	}
	start, err := validation.Date("period_start", body.PeriodStart)
	if err != nil {
		return response.FromError(c, err)
	}
	end, err := validation.Date("period_end", body.PeriodEnd)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := validation.PositiveAmount("gross_amount", body.GrossAmount); err != nil {
		return response.FromError(c, err)
	}

	payment, err := h.Rent.CreateRentPayment(c.UserContext(), distribution.CreateRentPaymentInput{
		PropertyID:           propertyID,
		PeriodStart:          start,
		PeriodEnd:            end,
		GrossAmount:          body.GrossAmount,
		ManagementFeePercent: body.ManagementFeePercent,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Rent payment recorded", payment, nil)
}

// ViewPayments GET /api/v1/rent/view-payments?property_id=&status=&limit=&offset=
func (h *Handlers) ViewPayments(c *fiber.Ctx) error {
	propertyID, err := validation.OptionalUUID("property_id", c.Query("property_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	status := c.Query("status")
	if status != "" && status != domain.RentStatusPending && status != domain.RentStatusCompleted {
		return response.Error(c, "status must be PENDING or COMPLETED", fiber.StatusBadRequest, nil)
	}
	limit, offset := validation.Page(c.Query("limit"), c.Query("offset"))
	data, err := h.Rent.ListRentPayments(c.UserContext(), distribution.PaymentFilter{
		PropertyID: propertyID, Status: status, Limit: limit, Offset: offset,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Rent payments fetched successfully", data, nil)
}

// RunDistribution POST /api/v1/rent/run-distribution
func (h *Handlers) RunDistribution(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		PropertyIDs []string `json:"property_ids"`
		DryRun      bool     `json:"dry_run"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
		}
	}
	ids := make([]uuid.UUID, 0, len(body.PropertyIDs))
	for _, raw := range body.PropertyIDs {
		id, err := validation.UUID("property_ids", raw)
		if err != nil {
			return response.FromError(c, err)
		}
		ids = append(ids, id)
	}

	summary, err := h.Runner.Run(c.UserContext(), distribution.RunOptions{
		PropertyIDs: ids,
		DryRun:      body.DryRun,
		TriggeredBy: "admin:" + actor.UserID.String(),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	switch summary.Status {
	case domain.RunStatusFailed:
		return response.Error(c, "Distribution run failed", fiber.StatusInternalServerError, summary)
	case domain.RunStatusPartial:
		return response.Success(c, "Distribution completed with errors", summary, nil)
	}
	if summary.DryRun {
		return response.Success(c, "Distribution preview", summary, nil)
	}
	return response.Success(c, "Distribution completed", summary, nil)
}

// ViewHistory GET /api/v1/rent/view-history?status=&limit=&offset=
func (h *Handlers) ViewHistory(c *fiber.Ctx) error {
	limit, offset := validation.Page(c.Query("limit"), c.Query("offset"))
	data, err := h.Rent.GetDistributionHistory(c.UserContext(), distribution.RunFilter{
		Status: c.Query("status"), Limit: limit, Offset: offset,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distribution history fetched successfully", data, nil)
}

// ViewDistributions GET /api/v1/rent/view-distributions?property_id=&from=&to=
func (h *Handlers) ViewDistributions(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	propertyID, err := validation.OptionalUUID("property_id", c.Query("property_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	from, err := validation.OptionalDate("from", c.Query("from"))
	if err != nil {
		return response.FromError(c, err)
	}
	to, err := validation.OptionalDate("to", c.Query("to"))
	if err != nil {
		return response.FromError(c, err)
	}
	limit, offset := validation.Page(c.Query("limit"), c.Query("offset"))
	data, err := h.Rent.GetUserDistributions(c.UserContext(), actor.UserID, distribution.DistributionFilter{
		PropertyID: propertyID, From: from, To: to, Limit: limit, Offset: offset,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Distributions fetched successfully", data, nil)
}
