package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentPurposeVaultDeposit  = "vault_deposit"
	PaymentPurposeTokenPurchase = "token_purchase"
)

// Payment records a settled Stripe payment intent. The intent id is unique so
// webhook redeliveries are no-ops.
type Payment struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StripePaymentIntentID string          `gorm:"column:stripe_payment_intent_id;uniqueIndex;not null" json:"stripe_payment_intent_id"`
	StripeEventID         string          `gorm:"column:stripe_event_id;uniqueIndex;not null" json:"stripe_event_id"`
	UserID                uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Purpose               string          `gorm:"column:purpose;type:varchar(30);not null" json:"purpose"`
	PropertyID            *uuid.UUID      `gorm:"column:property_id;type:uuid" json:"property_id"`
	TokenQuantity         int64           `gorm:"column:token_quantity;not null;default:0" json:"token_quantity"`
	Amount                decimal.Decimal `gorm:"column:amount;type:decimal(24,6);not null" json:"amount"`
	AmountPaidCents       int64           `gorm:"column:amount_paid_cents;not null" json:"amount_paid_cents"`
	Currency              string          `gorm:"column:currency;not null" json:"currency"`
	Status                string          `gorm:"column:status;not null" json:"status"`
	RawPaymentIntent      datatypes.JSON  `gorm:"column:raw_payment_intent;type:jsonb;not null" json:"raw_payment_intent"`
	CreatedAt             time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt             time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Payment) TableName() string {
	return "Payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
