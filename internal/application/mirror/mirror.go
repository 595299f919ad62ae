// Package mirror keeps the lending contract eventually consistent with the
// ledger. Calls are recorded as outbox rows inside the ledger transaction
// and sent after commit; the ledger never waits on them.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Mirror is the on-chain lending contract. Each call returns a transaction
// reference on success.
type Mirror interface {
	LockCollateral(ctx context.Context, wallet, tokenID string, amount int64) (string, error)
	UnlockCollateral(ctx context.Context, wallet, tokenID string, amount int64) (string, error)
	IssueLoan(ctx context.Context, wallet string, amount decimal.Decimal, rateBps int64) (string, error)
	RecordRepayment(ctx context.Context, wallet string, principalPaid, interestPaid decimal.Decimal) (string, error)
	SetAssetPrice(ctx context.Context, tokenID string, price decimal.Decimal) (string, error)
}

// Payload carries the call arguments of one outbox row.
type Payload struct {
	Wallet        string          `json:"wallet,omitempty"`
	TokenID       string          `json:"token_id,omitempty"`
	TokenAmount   int64           `json:"token_amount,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	RateBps       int64           `json:"rate_bps,omitempty"`
	PrincipalPaid decimal.Decimal `json:"principal_paid"`
	InterestPaid  decimal.Decimal `json:"interest_paid"`
	Price         decimal.Decimal `json:"price"`
}

// Batch collects the mirror calls of one ledger operation. Calls in a batch
// share a group id and are sent in the order they were added.
type Batch struct {
	GroupID uuid.UUID
	userID  uuid.UUID
	wallet  string
	events  []domain.MirrorEvent
}

func NewBatch(userID uuid.UUID, wallet string) *Batch {
	return &Batch{GroupID: uuid.New(), userID: userID, wallet: wallet}
}

func (b *Batch) SetAssetPrice(propertyID uuid.UUID, tokenID string, price decimal.Decimal) {
	b.add(domain.MirrorOpSetAssetPrice, domain.MirrorTargetProperty, propertyID, false, Payload{TokenID: tokenID, Price: price})
}

func (b *Batch) LockCollateral(collateralID uuid.UUID, tokenID string, amount int64) {
	b.add(domain.MirrorOpLockCollateral, domain.MirrorTargetCollateral, collateralID, true, Payload{Wallet: b.wallet, TokenID: tokenID, TokenAmount: amount})
}

func (b *Batch) UnlockCollateral(collateralID uuid.UUID, tokenID string, amount int64) {
	b.add(domain.MirrorOpUnlockCollateral, domain.MirrorTargetCollateral, collateralID, true, Payload{Wallet: b.wallet, TokenID: tokenID, TokenAmount: amount})
}

func (b *Batch) IssueLoan(positionID uuid.UUID, amount decimal.Decimal, rateBps int64) {
	b.add(domain.MirrorOpIssueLoan, domain.MirrorTargetPosition, positionID, true, Payload{Wallet: b.wallet, Amount: amount, RateBps: rateBps})
}

func (b *Batch) RecordRepayment(repaymentID uuid.UUID, principalPaid, interestPaid decimal.Decimal) {
	b.add(domain.MirrorOpRecordRepayment, domain.MirrorTargetRepayment, repaymentID, true, Payload{Wallet: b.wallet, PrincipalPaid: principalPaid, InterestPaid: interestPaid})
}

// Len reports how many calls still need sending.
func (b *Batch) Len() int {
	n := 0
	for _, e := range b.events {
		if e.Status == domain.MirrorStatusPending {
			n++
		}
	}
	return n
}

func (b *Batch) add(op, targetType string, targetID uuid.UUID, needsWallet bool, p Payload) {
	status := domain.MirrorStatusPending
	if needsWallet && b.wallet == "" {
		status = domain.MirrorStatusSkipped
	}
	raw, _ := json.Marshal(p)
	b.events = append(b.events, domain.MirrorEvent{
		Operation:  op,
		UserID:     b.userID,
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    datatypes.JSON(raw),
		Status:     status,
		Sequence:   len(b.events),
		GroupID:    b.GroupID,
	})
}

// Save inserts the batch's outbox rows in tx.
func (b *Batch) Save(tx *gorm.DB) error {
	if len(b.events) == 0 {
		return nil
	}
	if err := tx.Create(&b.events).Error; err != nil {
		return fmt.Errorf("failed to write mirror outbox: %w", err)
	}
	return nil
}

// Dispatcher sends saved batches after commit.
type Dispatcher interface {
	Dispatch(ctx context.Context, groupID uuid.UUID)
}

// NoopDispatcher leaves outbox rows for a later RetryPending.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, uuid.UUID) {}

func decodePayload(e *domain.MirrorEvent) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("mirror event %s: bad payload: %w", e.EventID, err)
	}
	return p, nil
}

func call(ctx context.Context, m Mirror, e *domain.MirrorEvent) (string, error) {
	p, err := decodePayload(e)
	if err != nil {
		return "", err
	}
	switch e.Operation {
	case domain.MirrorOpSetAssetPrice:
		return m.SetAssetPrice(ctx, p.TokenID, p.Price)
	case domain.MirrorOpLockCollateral:
		return m.LockCollateral(ctx, p.Wallet, p.TokenID, p.TokenAmount)
	case domain.MirrorOpUnlockCollateral:
		return m.UnlockCollateral(ctx, p.Wallet, p.TokenID, p.TokenAmount)
	case domain.MirrorOpIssueLoan:
		return m.IssueLoan(ctx, p.Wallet, p.Amount, p.RateBps)
	case domain.MirrorOpRecordRepayment:
		return m.RecordRepayment(ctx, p.Wallet, p.PrincipalPaid, p.InterestPaid)
	default:
		return "", fmt.Errorf("unknown mirror operation %q", e.Operation)
	}
}
