package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"estatevault-backend/internal/application/funds"
	"estatevault-backend/internal/application/holdings"
	"estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WebhookHandler struct {
	DB            *gorm.DB
	WebhookSecret string
}

// HandleWebhook POST /api/v1/stripe/webhook. Needs the raw body, so it is
// mounted before any body-consuming middleware.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	sig := c.Get("Stripe-Signature")

	if len(rawBody) == 0 {
		log.Warn().Msg("Stripe webhook received empty body")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}
	if sig == "" || wh.WebhookSecret == "" {
		log.Warn().Bool("has_sig", sig != "").Bool("has_secret", wh.WebhookSecret != "").Msg("Stripe webhook missing signature or secret")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: missing signature or secret")
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, sig, wh.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Stripe webhook signature verification failed")
		return c.Status(fiber.StatusBadRequest).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	if event.Type == stripe.EventTypePaymentIntentSucceeded && event.Data != nil {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Stripe webhook payment intent parse failed")
			return c.Status(fiber.StatusOK).SendString("ok")
		}
		// Domain failures still answer 200 so Stripe does not redeliver forever.
		if err := wh.handlePaymentIntentSucceeded(&pi, event.ID, event.Data.Raw); err != nil {
			log.Error().Err(err).Str("payment_intent", pi.ID).Msg("Stripe payment intent not applied")
		}
	}

	return c.Status(fiber.StatusOK).SendString("ok")
}

func (wh *WebhookHandler) handlePaymentIntentSucceeded(pi *stripe.PaymentIntent, eventID string, raw []byte) error {
	purpose := pi.Metadata["purpose"]
	userID, err := uuid.Parse(pi.Metadata["user_id"])
	if err != nil || (purpose != domain.PaymentPurposeVaultDeposit && purpose != domain.PaymentPurposeTokenPurchase) {
		log.Info().Str("payment_intent", pi.ID).Str("purpose", purpose).Msg("Stripe payment intent without ledger metadata skipped")
		return nil
	}
	amount := funds.FromCents(pi.AmountReceived)

	return wh.DB.Transaction(func(tx *gorm.DB) error {
		var existing domain.Payment
		err := tx.Where("stripe_payment_intent_id = ?", pi.ID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment := domain.Payment{
			StripePaymentIntentID: pi.ID,
			StripeEventID:         eventID,
			UserID:                userID,
			Purpose:               purpose,
			Amount:                amount,
			AmountPaidCents:       pi.AmountReceived,
			Currency:              string(pi.Currency),
			Status:                string(pi.Status),
			RawPaymentIntent:      datatypes.JSON(raw),
		}

		switch purpose {
		case domain.PaymentPurposeVaultDeposit:
			if _, err := vault.Deposit(tx, userID, amount, pi.ID); err != nil {
				return err
			}
		case domain.PaymentPurposeTokenPurchase:
			propertyID, quantity, unitPrice, err := purchaseMetadata(pi.Metadata)
			if err != nil {
				return err
			}
			if _, err := holdings.RecordPurchase(tx, userID, propertyID, quantity, unitPrice); err != nil {
				return err
			}
			payment.PropertyID = &propertyID
			payment.TokenQuantity = quantity
		}

		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		log.Info().Str("payment_intent", pi.ID).Str("purpose", purpose).Str("user_id", userID.String()).
			Str("amount", amount.String()).Msg("Stripe payment applied")
		return nil
	})
}

func purchaseMetadata(md map[string]string) (uuid.UUID, int64, decimal.Decimal, error) {
	propertyID, err := uuid.Parse(md["property_id"])
	if err != nil {
		return uuid.Nil, 0, decimal.Zero, fmt.Errorf("%w: property_id", domain.ErrInvalidInput)
	}
	quantity, err := strconv.ParseInt(md["quantity"], 10, 64)
	if err != nil || quantity <= 0 {
		return uuid.Nil, 0, decimal.Zero, fmt.Errorf("%w: quantity", domain.ErrInvalidInput)
	}
	unitPrice, err := decimal.NewFromString(md["unit_price"])
	if err != nil {
		return uuid.Nil, 0, decimal.Zero, fmt.Errorf("%w: unit_price", domain.ErrInvalidInput)
	}
	return propertyID, quantity, unitPrice, nil
}
