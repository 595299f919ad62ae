package vault

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"estatevault-backend/internal/application/funds"
	vaultsvc "estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntents struct {
	err      error
	amount   decimal.Decimal
	metadata map[string]string
}

func (f *fakeIntents) CreateIntent(_ context.Context, amount decimal.Decimal, metadata map[string]string) (*funds.IntentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.amount, f.metadata = amount, metadata
	return &funds.IntentResult{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func setupVault(t *testing.T, intents funds.IntentCreator) (*fiber.App, uuid.UUID) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	userID := uuid.New()
	h := &Handlers{Service: &vaultsvc.Service{DB: db}, Intents: intents}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", map[string]interface{}{"user_id": userID.String(), "role": "investor", "kyc_status": "APPROVED"})
		return c.Next()
	})
	app.Get("/view-vault", h.ViewVault)
	app.Patch("/link-wallet", h.LinkWallet)
	app.Post("/reset", h.Reset)
	app.Post("/create-deposit-intent", h.CreateDepositIntent)
	return app, userID
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestViewVault_CreatesEmptyVault(t *testing.T) {
	app, userID := setupVault(t, nil)
	status, body := doJSON(t, app, "GET", "/view-vault", "")
	assert.Equal(t, 200, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, userID.String(), data["user_id"])
	assert.Equal(t, "0", data["available"])
}

func TestViewVault_Unauthorized(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	h := &Handlers{Service: &vaultsvc.Service{DB: db}}
	app := fiber.New()
	app.Get("/view-vault", h.ViewVault)
	resp, err := app.Test(httptest.NewRequest("GET", "/view-vault", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestLinkWallet(t *testing.T) {
	app, _ := setupVault(t, nil)

	status, _ := doJSON(t, app, "PATCH", "/link-wallet", `{"wallet_address":"not-an-address"}`)
	assert.Equal(t, 400, status)

	status, body := doJSON(t, app, "PATCH", "/link-wallet", `{"wallet_address":"0x52908400098527886e0f7030069857d2e4169ee7"}`)
	assert.Equal(t, 200, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", data["wallet_address"])
}

func TestCreateDepositIntent(t *testing.T) {
	intents := &fakeIntents{}
	app, userID := setupVault(t, intents)

	status, body := doJSON(t, app, "POST", "/create-deposit-intent", `{"amount":"125.50"}`)
	assert.Equal(t, 200, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "pi_test_secret", data["client_secret"])
	assert.True(t, intents.amount.Equal(decimal.RequireFromString("125.5")))
	assert.Equal(t, domain.PaymentPurposeVaultDeposit, intents.metadata["purpose"])
	assert.Equal(t, userID.String(), intents.metadata["user_id"])
}

func TestCreateDepositIntent_Validation(t *testing.T) {
	app, _ := setupVault(t, &fakeIntents{})
	status, _ := doJSON(t, app, "POST", "/create-deposit-intent", `{"amount":"-5"}`)
	assert.Equal(t, 400, status)
	status, _ = doJSON(t, app, "POST", "/create-deposit-intent", `{"amount":"0.001"}`)
	assert.Equal(t, 400, status)
}

func TestCreateDepositIntent_NotConfigured(t *testing.T) {
	app, _ := setupVault(t, &fakeIntents{err: funds.ErrNotConfigured})
	status, _ := doJSON(t, app, "POST", "/create-deposit-intent", `{"amount":"10"}`)
	assert.Equal(t, 501, status)
}
