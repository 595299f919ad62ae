package transactions

import (
	"context"
	"fmt"
	"time"

	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	DB *gorm.DB
}

type Filter struct {
	Type       string
	PropertyID *uuid.UUID
	Limit      int
	Offset     int
}

type FormattedTx struct {
	TxID         uuid.UUID       `json:"tx_id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	PropertyID   *uuid.UUID      `json:"property_id"`
	PropertyName *string         `json:"property_name"`
	ReferenceID  *uuid.UUID      `json:"reference_id"`
	ExternalRef  *string         `json:"external_ref"`
	Metadata     datatypes.JSON  `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

var validTypes = map[string]bool{
	domain.TxTypeDeposit:           true,
	domain.TxTypeWithdrawal:        true,
	domain.TxTypeTokenPurchase:     true,
	domain.TxTypeLoanDisbursement:  true,
	domain.TxTypeOriginationFee:    true,
	domain.TxTypeCollateralLock:    true,
	domain.TxTypeCollateralRelease: true,
	domain.TxTypeLoanRepayment:     true,
	domain.TxTypeRentDistribution:  true,
	domain.TxTypeVaultReset:        true,
}

// GetTransactions returns the user's ledger journal, newest first, with the
// property name resolved for rows that carry one.
func (s *Service) GetTransactions(ctx context.Context, userID uuid.UUID, f Filter) ([]FormattedTx, error) {
	if f.Type != "" && !validTypes[f.Type] {
		return nil, fmt.Errorf("%w: unknown transaction type %q", domain.ErrInvalidInput, f.Type)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.PropertyID != nil {
		q = q.Where("property_id = ?", *f.PropertyID)
	}

	var txs []domain.Transaction
	if err := q.Order(`"createdAt" DESC`).Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return []FormattedTx{}, nil
	}

	propIDs := map[uuid.UUID]bool{}
	for _, tx := range txs {
		if tx.PropertyID != nil {
			propIDs[*tx.PropertyID] = true
		}
	}
	names := map[uuid.UUID]string{}
	if len(propIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(propIDs))
		for id := range propIDs {
			ids = append(ids, id)
		}
		var props []domain.Property
		if err := s.DB.WithContext(ctx).Where("property_id IN ?", ids).Select("property_id, name").Find(&props).Error; err != nil {
			return nil, err
		}
		for _, p := range props {
			names[p.PropertyID] = p.Name
		}
	}

	out := make([]FormattedTx, len(txs))
	for i, tx := range txs {
		ft := FormattedTx{
			TxID:        tx.TxID,
			Type:        tx.Type,
			Status:      tx.Status,
			Amount:      tx.Amount,
			Description: tx.Description,
			PropertyID:  tx.PropertyID,
			ReferenceID: tx.ReferenceID,
			ExternalRef: tx.ExternalRef,
			Metadata:    tx.Metadata,
			CreatedAt:   tx.CreatedAt,
		}
		if tx.PropertyID != nil {
			if name, ok := names[*tx.PropertyID]; ok {
				ft.PropertyName = &name
			}
		}
		out[i] = ft
	}
	return out, nil
}
