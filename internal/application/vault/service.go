package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estatevault-backend/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service encapsulates vault reads and user-facing vault operations.
type Service struct {
	DB *gorm.DB
}

type View struct {
	VaultID        uuid.UUID       `json:"vault_id"`
	UserID         uuid.UUID       `json:"user_id"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	LockedBalance  decimal.Decimal `json:"locked_balance"`
	Available      decimal.Decimal `json:"available"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	WalletAddress  *string         `json:"wallet_address"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toView(a *domain.VaultAccount) View {
	return View{
		VaultID:        a.VaultID,
		UserID:         a.UserID,
		TotalBalance:   a.TotalBalance,
		LockedBalance:  a.LockedBalance,
		Available:      a.Available(),
		TotalDeposited: a.TotalDeposited,
		TotalWithdrawn: a.TotalWithdrawn,
		TotalEarned:    a.TotalEarned,
		WalletAddress:  a.WalletAddress,
		UpdatedAt:      a.UpdatedAt,
	}
}

// GetVault returns the user's vault, creating an empty one on first access.
func (s *Service) GetVault(ctx context.Context, userID uuid.UUID) (View, error) {
	if userID == uuid.Nil {
		return View{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	var out View
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := LoadForUpdate(tx, userID)
		if err != nil {
			return err
		}
		out = toView(acct)
		return nil
	})
	return out, err
}

// LinkWallet stores the EVM address on-chain mirror calls are made for.
func (s *Service) LinkWallet(ctx context.Context, userID uuid.UUID, address string) (View, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return View{}, fmt.Errorf("%w: wallet_address must be a 0x-prefixed 20-byte hex address", domain.ErrInvalidInput)
	}
	checksummed := common.HexToAddress(address).Hex()

	var out View
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := LoadForUpdate(tx, userID)
		if err != nil {
			return err
		}
		acct.WalletAddress = &checksummed
		if err := tx.Model(acct).Update("wallet_address", checksummed).Error; err != nil {
			return err
		}
		out = toView(acct)
		return nil
	})
	return out, err
}

// Reset zeroes the user's balances. Refused while a loan is open since the
// locked balance backs it.
func (s *Service) Reset(ctx context.Context, userID uuid.UUID) (View, error) {
	var out View
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock before counting: OpenPosition holds this lock while it inserts.
		acct, err := LoadForUpdate(tx, userID)
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&domain.BorrowPosition{}).
			Where("user_id = ? AND status = ?", userID, domain.PositionStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: repay the open position before resetting the vault", domain.ErrActivePositionExists)
		}
		previous := acct.TotalBalance
		acct.TotalBalance = decimal.Zero
		acct.LockedBalance = decimal.Zero
		acct.TotalDeposited = decimal.Zero
		acct.TotalWithdrawn = decimal.Zero
		acct.TotalEarned = decimal.Zero
		if err := save(tx, acct); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]interface{}{"previous_balance": previous.String()})
		if err := tx.Create(&domain.Transaction{
			UserID:      userID,
			Type:        domain.TxTypeVaultReset,
			Status:      domain.TxStatusCompleted,
			Amount:      previous,
			ReferenceID: &acct.VaultID,
			Description: "Vault reset",
			Metadata:    datatypes.JSON(meta),
		}).Error; err != nil {
			return err
		}
		out = toView(acct)
		return nil
	})
	if err == nil {
		log.Info().Str("user_id", userID.String()).Msg("vault reset")
	}
	return out, err
}

// Deposit credits settled external funds inside tx and journals them.
func Deposit(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, externalRef string) (*domain.VaultAccount, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidInput)
	}
	acct, err := LoadForUpdate(tx, userID)
	if err != nil {
		return nil, err
	}
	if err := Credit(tx, acct, amount, CountDeposited); err != nil {
		return nil, err
	}
	ref := externalRef
	if err := tx.Create(&domain.Transaction{
		UserID:      userID,
		Type:        domain.TxTypeDeposit,
		Status:      domain.TxStatusCompleted,
		Amount:      domain.RoundMoney(amount),
		ReferenceID: &acct.VaultID,
		ExternalRef: &ref,
		Description: "Vault deposit",
	}).Error; err != nil {
		return nil, err
	}
	return acct, nil
}

// Find returns the user's vault without creating one.
func Find(tx *gorm.DB, userID uuid.UUID) (*domain.VaultAccount, error) {
	var acct domain.VaultAccount
	if err := tx.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acct, nil
}
