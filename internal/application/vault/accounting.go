package vault

import (
	"errors"
	"fmt"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Counter selects which lifetime total a balance change also bumps.
type Counter int

const (
	CountNone Counter = iota
	CountDeposited
	CountEarned
	CountWithdrawn
)

// LoadForUpdate returns the user's vault row locked for the enclosing
// transaction. A missing account is created with zero balances.
func LoadForUpdate(tx *gorm.DB, userID uuid.UUID) (*domain.VaultAccount, error) {
	var acct domain.VaultAccount
	err := database.ForUpdate(tx).Where("user_id = ?", userID).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return Create(tx, userID)
}

// Create inserts an empty vault for userID.
func Create(tx *gorm.DB, userID uuid.UUID) (*domain.VaultAccount, error) {
	acct := domain.VaultAccount{
		UserID:         userID,
		TotalBalance:   decimal.Zero,
		LockedBalance:  decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
	if err := tx.Create(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// Credit adds amount to totalBalance. Zero is allowed and still persisted.
func Credit(tx *gorm.DB, acct *domain.VaultAccount, amount decimal.Decimal, counter Counter) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: credit amount must not be negative", domain.ErrInvalidInput)
	}
	acct.TotalBalance = domain.RoundMoney(acct.TotalBalance.Add(amount))
	switch counter {
	case CountDeposited:
		acct.TotalDeposited = domain.RoundMoney(acct.TotalDeposited.Add(amount))
	case CountEarned:
		acct.TotalEarned = domain.RoundMoney(acct.TotalEarned.Add(amount))
	}
	return save(tx, acct)
}

// Debit removes amount from totalBalance. Locked funds cannot be debited.
func Debit(tx *gorm.DB, acct *domain.VaultAccount, amount decimal.Decimal, counter Counter) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: debit amount must not be negative", domain.ErrInvalidInput)
	}
	if amount.GreaterThan(acct.Available()) {
		return fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientFunds, acct.Available().StringFixed(2), amount.StringFixed(2))
	}
	acct.TotalBalance = domain.RoundMoney(acct.TotalBalance.Sub(amount))
	if counter == CountWithdrawn {
		acct.TotalWithdrawn = domain.RoundMoney(acct.TotalWithdrawn.Add(amount))
	}
	return save(tx, acct)
}

// Lock reserves amount of the available balance.
func Lock(tx *gorm.DB, acct *domain.VaultAccount, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: lock amount must not be negative", domain.ErrInvalidInput)
	}
	if amount.GreaterThan(acct.Available()) {
		return fmt.Errorf("%w: available %s, lock %s", domain.ErrInsufficientFunds, acct.Available().StringFixed(2), amount.StringFixed(2))
	}
	acct.LockedBalance = domain.RoundMoney(acct.LockedBalance.Add(amount))
	return save(tx, acct)
}

// Unlock releases amount of the locked balance. Releasing more than is
// locked means the ledger is already inconsistent.
func Unlock(tx *gorm.DB, acct *domain.VaultAccount, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: unlock amount must not be negative", domain.ErrInvalidInput)
	}
	if amount.GreaterThan(acct.LockedBalance) {
		return fmt.Errorf("%w: unlock %s exceeds locked %s on vault %s", domain.ErrInvariantViolation, amount.String(), acct.LockedBalance.String(), acct.VaultID)
	}
	acct.LockedBalance = domain.RoundMoney(acct.LockedBalance.Sub(amount))
	return save(tx, acct)
}

func save(tx *gorm.DB, acct *domain.VaultAccount) error {
	if acct.LockedBalance.IsNegative() || acct.LockedBalance.GreaterThan(acct.TotalBalance) {
		return fmt.Errorf("%w: vault %s locked %s total %s", domain.ErrInvariantViolation, acct.VaultID, acct.LockedBalance.String(), acct.TotalBalance.String())
	}
	return tx.Model(acct).Select(
		"TotalBalance", "LockedBalance", "TotalDeposited", "TotalWithdrawn", "TotalEarned", "UpdatedAt",
	).Updates(acct).Error
}
