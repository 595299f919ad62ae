package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RentStatusPending   = "PENDING"
	RentStatusCompleted = "COMPLETED"
)

// RentPayment is one property's income for one period. It moves
// PENDING -> COMPLETED exactly once, inside the distribution transaction.
type RentPayment struct {
	RentPaymentID  uuid.UUID       `gorm:"column:rent_payment_id;type:uuid;primaryKey" json:"rent_payment_id"`
	PropertyID     uuid.UUID       `gorm:"column:property_id;type:uuid;not null;index" json:"property_id"`
	PeriodStart    time.Time       `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd      time.Time       `gorm:"column:period_end;not null" json:"period_end"`
	GrossAmount    decimal.Decimal `gorm:"column:gross_amount;type:decimal(24,6);not null" json:"gross_amount"`
	ManagementFee  decimal.Decimal `gorm:"column:management_fee;type:decimal(24,6);not null;default:0" json:"management_fee"`
	NetAmount      decimal.Decimal `gorm:"column:net_amount;type:decimal(24,6);not null" json:"net_amount"`
	TotalTokens    int64           `gorm:"column:total_tokens;not null" json:"total_tokens"`
	PerTokenAmount decimal.Decimal `gorm:"column:per_token_amount;type:decimal(24,6);not null" json:"per_token_amount"`
	Status         string          `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	DistributedAt  *time.Time      `gorm:"column:distributed_at" json:"distributed_at"`
	CreatedAt      time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (RentPayment) TableName() string {
	return "RentPayments"
}

func (r *RentPayment) BeforeCreate(tx *gorm.DB) error {
	if r.RentPaymentID == uuid.Nil {
		r.RentPaymentID = uuid.New()
	}
	return nil
}

// RentDistribution is the immutable per-holder audit row of one rent payment.
type RentDistribution struct {
	DistributionID   uuid.UUID       `gorm:"column:distribution_id;type:uuid;primaryKey" json:"distribution_id"`
	RentPaymentID    uuid.UUID       `gorm:"column:rent_payment_id;type:uuid;not null;uniqueIndex:idx_distribution_payment_user" json:"rent_payment_id"`
	UserID           uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_distribution_payment_user;index" json:"user_id"`
	PropertyID       uuid.UUID       `gorm:"column:property_id;type:uuid;not null" json:"property_id"`
	PositionID       *uuid.UUID      `gorm:"column:position_id;type:uuid" json:"position_id"`
	TokensHeld       int64           `gorm:"column:tokens_held;not null" json:"tokens_held"`
	TotalTokens      int64           `gorm:"column:total_tokens;not null" json:"total_tokens"`
	OwnershipPercent decimal.Decimal `gorm:"column:ownership_percent;type:decimal(12,8);not null" json:"ownership_percent"`
	GrossAmount      decimal.Decimal `gorm:"column:gross_amount;type:decimal(24,6);not null" json:"gross_amount"`
	InterestDeducted decimal.Decimal `gorm:"column:interest_deducted;type:decimal(24,6);not null" json:"interest_deducted"`
	NetAmount        decimal.Decimal `gorm:"column:net_amount;type:decimal(24,6);not null" json:"net_amount"`
	DistributedAt    time.Time       `gorm:"column:distributed_at;not null" json:"distributed_at"`
	CreatedAt        time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (RentDistribution) TableName() string {
	return "RentDistributions"
}

func (d *RentDistribution) BeforeCreate(tx *gorm.DB) error {
	if d.DistributionID == uuid.Nil {
		d.DistributionID = uuid.New()
	}
	return nil
}
