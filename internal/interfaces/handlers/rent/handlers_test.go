package rent

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"estatevault-backend/internal/application/distribution"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type rentEnv struct {
	app      *fiber.App
	db       *gorm.DB
	adminID  uuid.UUID
	holderID uuid.UUID
	property domain.Property
}

func setupRent(t *testing.T, runner distribution.Runner) *rentEnv {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	e := &rentEnv{db: db, adminID: uuid.New(), holderID: uuid.New()}
	e.property = domain.Property{Name: "Harbor View", TokenID: "42", TokenPrice: decimal.NewFromInt(50), TotalTokens: 1000, Status: domain.PropertyStatusActive}
	require.NoError(t, db.Create(&e.property).Error)
	require.NoError(t, db.Create(&domain.Holding{UserID: e.holderID, PropertyID: e.property.PropertyID, Quantity: 100,
		AverageCost: decimal.NewFromInt(50), TotalInvested: decimal.NewFromInt(5000), RentEarned: decimal.Zero}).Error)

	if runner == nil {
		runner = distribution.NewCoordinator(db, &distribution.Engine{DB: db})
	}
	h := &Handlers{Rent: &distribution.RentService{DB: db, DefaultManagementFeePercent: decimal.Zero}, Runner: runner}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		id := e.adminID
		if c.Get("X-As-Holder") != "" {
			id = e.holderID
		}
		c.Locals("user", map[string]interface{}{"user_id": id.String(), "role": "admin"})
		return c.Next()
	})
	app.Post("/create-payment", h.CreatePayment)
	app.Get("/view-payments", h.ViewPayments)
	app.Post("/run-distribution", h.RunDistribution)
	app.Get("/view-history", h.ViewHistory)
	app.Get("/view-distributions", h.ViewDistributions)
	e.app = app
	return e
}

func (e *rentEnv) do(t *testing.T, method, path, body string, asHolder bool) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if asHolder {
		req.Header.Set("X-As-Holder", "1")
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *rentEnv) paymentBody(gross string) string {
	return `{"property_id":"` + e.property.PropertyID.String() +
		`","period_start":"2026-01-01","period_end":"2026-02-01","gross_amount":"` + gross + `","management_fee_percent":"10"}`
}

func TestCreatePayment(t *testing.T) {
	e := setupRent(t, nil)
	status, body := e.do(t, "POST", "/create-payment", e.paymentBody("5000"), false)
	require.Equal(t, 201, status, body)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "4500", data["net_amount"])
	assert.Equal(t, "4.5", data["per_token_amount"])
	assert.Equal(t, domain.RentStatusPending, data["status"])
}

func TestCreatePayment_Validation(t *testing.T) {
	e := setupRent(t, nil)

	status, _ := e.do(t, "POST", "/create-payment",
		`{"property_id":"`+e.property.PropertyID.String()+`","period_start":"January","period_end":"2026-02-01","gross_amount":"10"}`, false)
	assert.Equal(t, 400, status)

	status, _ = e.do(t, "POST", "/create-payment", e.paymentBody("0"), false)
	assert.Equal(t, 400, status)

	status, _ = e.do(t, "POST", "/create-payment",
		`{"property_id":"`+uuid.New().String()+`","period_start":"2026-01-01","period_end":"2026-02-01","gross_amount":"10"}`, false)
	assert.Equal(t, 404, status)
}

func TestRunDistribution_EndToEnd(t *testing.T) {
	e := setupRent(t, nil)
	status, _ := e.do(t, "POST", "/create-payment", e.paymentBody("5000"), false)
	require.Equal(t, 201, status)

	status, body := e.do(t, "POST", "/run-distribution", `{"dry_run":true}`, false)
	require.Equal(t, 200, status, body)
	assert.Equal(t, "Distribution preview", body["message"])

	status, body = e.do(t, "GET", "/view-payments?status=PENDING", "", false)
	assert.Equal(t, 200, status)
	assert.Len(t, body["data"].([]interface{}), 1)

	status, body = e.do(t, "POST", "/run-distribution", `{}`, false)
	require.Equal(t, 200, status, body)
	summary := body["data"].(map[string]interface{})
	assert.Equal(t, domain.RunStatusCompleted, summary["status"])
	assert.Equal(t, "admin:"+e.adminID.String(), summary["triggered_by"])
	assert.Equal(t, float64(1), summary["distributions_created"])

	status, body = e.do(t, "GET", "/view-history", "", false)
	assert.Equal(t, 200, status)
	assert.Len(t, body["data"].([]interface{}), 1)

	status, body = e.do(t, "GET", "/view-distributions?property_id="+e.property.PropertyID.String(), "", true)
	require.Equal(t, 200, status)
	rows := body["data"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "450", rows[0].(map[string]interface{})["net_amount"])

	status, body = e.do(t, "GET", "/view-distributions", "", false)
	assert.Equal(t, 200, status)
	assert.Len(t, body["data"].([]interface{}), 0)
}

func TestRunDistribution_BadPropertyID(t *testing.T) {
	e := setupRent(t, nil)
	status, _ := e.do(t, "POST", "/run-distribution", `{"property_ids":["nope"]}`, false)
	assert.Equal(t, 400, status)
}

type busyRunner struct{}

func (busyRunner) Run(context.Context, distribution.RunOptions) (*distribution.RunSummary, error) {
	return nil, domain.ErrDistributionInProgress
}

func TestRunDistribution_InProgress(t *testing.T) {
	e := setupRent(t, busyRunner{})
	status, body := e.do(t, "POST", "/run-distribution", `{}`, false)
	assert.Equal(t, 409, status)
	details := body["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "DISTRIBUTION_IN_PROGRESS", details["code"])
}

func TestViewPayments_BadStatus(t *testing.T) {
	e := setupRent(t, nil)
	status, _ := e.do(t, "GET", "/view-payments?status=DONE", "", false)
	assert.Equal(t, 400, status)
}
