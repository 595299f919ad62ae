package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PositionStatusActive = "ACTIVE"
	PositionStatusRepaid = "REPAID"
)

const (
	RepaymentSourceVault    = "VAULT"
	RepaymentSourceExternal = "EXTERNAL"
	RepaymentSourceMixed    = "MIXED"
)

// BorrowPosition is a collateralized loan. At most one ACTIVE row per user.
type BorrowPosition struct {
	PositionID           uuid.UUID          `gorm:"column:position_id;type:uuid;primaryKey" json:"position_id"`
	UserID               uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Principal            decimal.Decimal    `gorm:"column:principal;type:decimal(24,6);not null" json:"principal"`
	InterestRate         decimal.Decimal    `gorm:"column:interest_rate;type:decimal(12,6);not null" json:"interest_rate"`
	AccruedInterest      decimal.Decimal    `gorm:"column:accrued_interest;type:decimal(24,6);not null;default:0" json:"accrued_interest"`
	CollateralValue      decimal.Decimal    `gorm:"column:collateral_value;type:decimal(24,6);not null" json:"collateral_value"`
	CollateralRatio      decimal.Decimal    `gorm:"column:collateral_ratio;type:decimal(12,6);not null" json:"collateral_ratio"`
	LiquidationThreshold decimal.Decimal    `gorm:"column:liquidation_threshold;type:decimal(12,6);not null" json:"liquidation_threshold"`
	OriginationFee       decimal.Decimal    `gorm:"column:origination_fee;type:decimal(24,6);not null;default:0" json:"origination_fee"`
	Status               string             `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	BorrowedAt           time.Time          `gorm:"column:borrowed_at;not null" json:"borrowed_at"`
	LastInterestUpdate   *time.Time         `gorm:"column:last_interest_update" json:"last_interest_update"`
	RepaidAt             *time.Time         `gorm:"column:repaid_at" json:"repaid_at"`
	LoanTxRef            *string            `gorm:"column:loan_tx_ref" json:"loan_tx_ref"`
	Collateral           []BorrowCollateral `gorm:"foreignKey:PositionID;references:PositionID" json:"collateral,omitempty"`
	CreatedAt            time.Time          `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt            time.Time          `gorm:"column:updatedAt" json:"updatedAt"`
}

func (BorrowPosition) TableName() string {
	return "BorrowPositions"
}

func (p *BorrowPosition) BeforeCreate(tx *gorm.DB) error {
	if p.PositionID == uuid.Nil {
		p.PositionID = uuid.New()
	}
	return nil
}

// AccrualStart is the instant interest has been realized up to.
func (p *BorrowPosition) AccrualStart() time.Time {
	if p.LastInterestUpdate != nil {
		return *p.LastInterestUpdate
	}
	return p.BorrowedAt
}

// BorrowCollateral is one pledged (property, token) lot of a position.
type BorrowCollateral struct {
	CollateralID  uuid.UUID       `gorm:"column:collateral_id;type:uuid;primaryKey" json:"collateral_id"`
	PositionID    uuid.UUID       `gorm:"column:position_id;type:uuid;not null;index" json:"position_id"`
	PropertyID    uuid.UUID       `gorm:"column:property_id;type:uuid;not null" json:"property_id"`
	TokenID       string          `gorm:"column:token_id;not null" json:"token_id"`
	Amount        int64           `gorm:"column:amount;not null" json:"amount"`
	ValueAtLock   decimal.Decimal `gorm:"column:value_at_lock;type:decimal(24,6);not null" json:"value_at_lock"`
	CurrentValue  decimal.Decimal `gorm:"column:current_value;type:decimal(24,6);not null" json:"current_value"`
	Locked        bool            `gorm:"column:locked;not null" json:"locked"`
	LockedAt      time.Time       `gorm:"column:locked_at;not null" json:"locked_at"`
	UnlockedAt    *time.Time      `gorm:"column:unlocked_at" json:"unlocked_at"`
	LockTxRef     *string         `gorm:"column:lock_tx_ref" json:"lock_tx_ref"`
	UnlockTxRef   *string         `gorm:"column:unlock_tx_ref" json:"unlock_tx_ref"`
	CreatedAt     time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (BorrowCollateral) TableName() string {
	return "BorrowCollaterals"
}

func (c *BorrowCollateral) BeforeCreate(tx *gorm.DB) error {
	if c.CollateralID == uuid.Nil {
		c.CollateralID = uuid.New()
	}
	return nil
}

// BorrowRepayment is append-only; rows are never updated after insert except
// for the mirror reference written back by the outbox dispatcher.
type BorrowRepayment struct {
	RepaymentID     uuid.UUID       `gorm:"column:repayment_id;type:uuid;primaryKey" json:"repayment_id"`
	PositionID      uuid.UUID       `gorm:"column:position_id;type:uuid;not null;index" json:"position_id"`
	UserID          uuid.UUID       `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	PrincipalPaid   decimal.Decimal `gorm:"column:principal_paid;type:decimal(24,6);not null" json:"principal_paid"`
	InterestPaid    decimal.Decimal `gorm:"column:interest_paid;type:decimal(24,6);not null" json:"interest_paid"`
	TotalPaid       decimal.Decimal `gorm:"column:total_paid;type:decimal(24,6);not null" json:"total_paid"`
	Source          string          `gorm:"column:source;type:varchar(20);not null" json:"source"`
	ExternalRef     *string         `gorm:"column:external_ref" json:"external_ref"`
	IsFullRepayment bool            `gorm:"column:is_full_repayment;not null" json:"is_full_repayment"`
	MirrorTxRef     *string         `gorm:"column:mirror_tx_ref" json:"mirror_tx_ref"`
	PaidAt          time.Time       `gorm:"column:paid_at;not null" json:"paid_at"`
	CreatedAt       time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (BorrowRepayment) TableName() string {
	return "BorrowRepayments"
}

func (r *BorrowRepayment) BeforeCreate(tx *gorm.DB) error {
	if r.RepaymentID == uuid.Nil {
		r.RepaymentID = uuid.New()
	}
	return nil
}
