package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TxTypeDeposit           = "DEPOSIT"
	TxTypeWithdrawal        = "WITHDRAWAL"
	TxTypeTokenPurchase     = "TOKEN_PURCHASE"
	TxTypeLoanDisbursement  = "LOAN_DISBURSEMENT"
	TxTypeOriginationFee    = "ORIGINATION_FEE"
	TxTypeCollateralLock    = "COLLATERAL_LOCK"
	TxTypeCollateralRelease = "COLLATERAL_RELEASE"
	TxTypeLoanRepayment     = "LOAN_REPAYMENT"
	TxTypeRentDistribution  = "RENT_DISTRIBUTION"
	TxTypeVaultReset        = "VAULT_RESET"
)

const (
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Transaction is the append-only ledger journal. ReferenceID points at the
// position, repayment or distribution row that produced it.
type Transaction struct {
	TxID        uuid.UUID       `gorm:"column:tx_id;type:uuid;primaryKey" json:"tx_id"`
	UserID      uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Type        string          `gorm:"column:type;type:varchar(30);not null;index" json:"type"`
	Status      string          `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(24,6);not null" json:"amount"`
	PropertyID  *uuid.UUID      `gorm:"column:property_id;type:uuid" json:"property_id"`
	ReferenceID *uuid.UUID      `gorm:"column:reference_id;type:uuid;index" json:"reference_id"`
	ExternalRef *string         `gorm:"column:external_ref" json:"external_ref"`
	Description string          `gorm:"column:description" json:"description"`
	Metadata    datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt   time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "Transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.TxID == uuid.Nil {
		t.TxID = uuid.New()
	}
	return nil
}
