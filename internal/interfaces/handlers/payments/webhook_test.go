package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "whsec_test_secret_123"

func setupWebhookTest(t *testing.T) (*fiber.App, *gorm.DB) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	wh := &WebhookHandler{DB: db, WebhookSecret: testSecret}
	app := fiber.New()
	app.Post("/webhook", wh.HandleWebhook)
	return app, db
}

func signPayload(payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func intentEvent(t *testing.T, eventID, intentID string, cents int64, metadata map[string]string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":     eventID,
		"object": "event",
		"type":   "payment_intent.succeeded",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              intentID,
				"object":          "payment_intent",
				"amount":          cents,
				"amount_received": cents,
				"currency":        "usd",
				"status":          "succeeded",
				"metadata":        metadata,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func post(t *testing.T, app *fiber.App, body []byte, sig string) int {
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestWebhook_MissingSignature(t *testing.T) {
	app, _ := setupWebhookTest(t)
	assert.Equal(t, 400, post(t, app, []byte(`{}`), ""))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	app, _ := setupWebhookTest(t)
	assert.Equal(t, 400, post(t, app, []byte(`{"type":"payment_intent.succeeded"}`), "t=123,v1=invalid"))
}

func TestWebhook_OtherEventReturns200(t *testing.T) {
	app, _ := setupWebhookTest(t)
	body := []byte(`{"id":"evt_1","object":"event","type":"charge.succeeded","data":{"object":{}}}`)
	assert.Equal(t, 200, post(t, app, body, signPayload(body, testSecret)))
}

func TestWebhook_VaultDepositCreditsOnce(t *testing.T) {
	app, db := setupWebhookTest(t)
	userID := uuid.New()
	body := intentEvent(t, "evt_dep_1", "pi_dep_1", 12550, map[string]string{
		"purpose": domain.PaymentPurposeVaultDeposit,
		"user_id": userID.String(),
	})

	assert.Equal(t, 200, post(t, app, body, signPayload(body, testSecret)))
	assert.Equal(t, 200, post(t, app, body, signPayload(body, testSecret)))

	var acct domain.VaultAccount
	require.NoError(t, db.Where("user_id = ?", userID).First(&acct).Error)
	assert.True(t, acct.TotalBalance.Equal(decimal.RequireFromString("125.5")), acct.TotalBalance.String())
	assert.True(t, acct.TotalDeposited.Equal(decimal.RequireFromString("125.5")))

	var payments int64
	db.Model(&domain.Payment{}).Where("stripe_payment_intent_id = ?", "pi_dep_1").Count(&payments)
	assert.Equal(t, int64(1), payments)

	var deposits int64
	db.Model(&domain.Transaction{}).Where("user_id = ? AND type = ?", userID, domain.TxTypeDeposit).Count(&deposits)
	assert.Equal(t, int64(1), deposits)
}

func TestWebhook_TokenPurchaseAddsHolding(t *testing.T) {
	app, db := setupWebhookTest(t)
	property := domain.Property{Name: "Harbor View", TokenID: "42", TokenPrice: decimal.NewFromInt(50),
		TotalTokens: 1000, Status: domain.PropertyStatusActive}
	require.NoError(t, db.Create(&property).Error)
	userID := uuid.New()

	body := intentEvent(t, "evt_buy_1", "pi_buy_1", 50000, map[string]string{
		"purpose":     domain.PaymentPurposeTokenPurchase,
		"user_id":     userID.String(),
		"property_id": property.PropertyID.String(),
		"quantity":    "10",
		"unit_price":  "50",
	})
	assert.Equal(t, 200, post(t, app, body, signPayload(body, testSecret)))

	var h domain.Holding
	require.NoError(t, db.Where("user_id = ? AND property_id = ?", userID, property.PropertyID).First(&h).Error)
	assert.Equal(t, int64(10), h.Quantity)
	assert.True(t, h.TotalInvested.Equal(decimal.NewFromInt(500)))

	var p domain.Payment
	require.NoError(t, db.Where("stripe_payment_intent_id = ?", "pi_buy_1").First(&p).Error)
	assert.Equal(t, int64(10), p.TokenQuantity)
}

func TestWebhook_UnknownPropertyStill200(t *testing.T) {
	app, db := setupWebhookTest(t)
	body := intentEvent(t, "evt_buy_2", "pi_buy_2", 1000, map[string]string{
		"purpose":     domain.PaymentPurposeTokenPurchase,
		"user_id":     uuid.New().String(),
		"property_id": uuid.New().String(),
		"quantity":    "1",
		"unit_price":  "10",
	})
	assert.Equal(t, 200, post(t, app, body, signPayload(body, testSecret)))

	var payments int64
	db.Model(&domain.Payment{}).Count(&payments)
	assert.Equal(t, int64(0), payments)
}
