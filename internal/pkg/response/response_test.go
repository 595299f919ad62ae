package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"estatevault-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, err error) (int, ErrorBody) {
	t.Helper()
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return FromError(c, err) })
	resp, e := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, e)
	body, _ := io.ReadAll(resp.Body)
	var out ErrorBody
	require.NoError(t, json.Unmarshal(body, &out))
	return resp.StatusCode, out
}

func TestFromError_LedgerError(t *testing.T) {
	code, out := render(t, fmt.Errorf("%w: requested 3000.00, max 2500.00", domain.ErrExceedsLtv))
	assert.Equal(t, 400, code)
	assert.Equal(t, "error", out.Status)
	assert.Contains(t, out.Error.Message, "max 2500.00")
	assert.Equal(t, "EXCEEDS_LTV", out.Error.Details.(map[string]interface{})["code"])
}

func TestFromError_InvariantHidesDetail(t *testing.T) {
	code, out := render(t, fmt.Errorf("%w: vault 123 locked 5 total 4", domain.ErrInvariantViolation))
	assert.Equal(t, 500, code)
	assert.Equal(t, domain.ErrInvariantViolation.Message, out.Error.Message)
}

func TestFromError_Unknown(t *testing.T) {
	code, out := render(t, errors.New("boom"))
	assert.Equal(t, 500, code)
	assert.Equal(t, "Internal Server Error", out.Error.Message)
}

func TestPaymentRequiredStatus(t *testing.T) {
	code, _ := render(t, domain.ErrPaymentRequired)
	assert.Equal(t, fiber.StatusPaymentRequired, code)
}
