package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VaultAccount is a user's custodial balance. Available is always derived
// (TotalBalance - LockedBalance) and never persisted.
type VaultAccount struct {
	VaultID        uuid.UUID       `gorm:"column:vault_id;type:uuid;primaryKey" json:"vault_id"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex" json:"user_id"`
	TotalBalance   decimal.Decimal `gorm:"column:total_balance;type:decimal(24,6);not null;default:0" json:"total_balance"`
	LockedBalance  decimal.Decimal `gorm:"column:locked_balance;type:decimal(24,6);not null;default:0" json:"locked_balance"`
	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;type:decimal(24,6);not null;default:0" json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;type:decimal(24,6);not null;default:0" json:"total_withdrawn"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:decimal(24,6);not null;default:0" json:"total_earned"`
	WalletAddress  *string         `gorm:"column:wallet_address" json:"wallet_address"`
	CreatedAt      time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (VaultAccount) TableName() string {
	return "VaultAccounts"
}

func (v *VaultAccount) BeforeCreate(tx *gorm.DB) error {
	if v.VaultID == uuid.Nil {
		v.VaultID = uuid.New()
	}
	return nil
}

// Available returns the spendable balance.
func (v *VaultAccount) Available() decimal.Decimal {
	return v.TotalBalance.Sub(v.LockedBalance)
}

// Wallet returns the linked on-chain address or "".
func (v *VaultAccount) Wallet() string {
	if v == nil || v.WalletAddress == nil {
		return ""
	}
	return *v.WalletAddress
}
