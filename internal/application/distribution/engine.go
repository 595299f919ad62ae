package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estatevault-backend/internal/application/lending"
	"estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentResult is the outcome of distributing one rent payment.
type PaymentResult struct {
	RentPaymentID    uuid.UUID                 `json:"rent_payment_id"`
	PropertyID       uuid.UUID                 `json:"property_id"`
	Skipped          bool                      `json:"skipped,omitempty"`
	Holders          int                       `json:"holders"`
	GrossAmount      decimal.Decimal           `json:"gross_amount"`
	InterestDeducted decimal.Decimal           `json:"interest_deducted"`
	NetAmount        decimal.Decimal           `json:"net_amount"`
	Distributions    []domain.RentDistribution `json:"distributions,omitempty"`
}

// Processor distributes a single rent payment as part of pass.
type Processor interface {
	Distribute(ctx context.Context, payment domain.RentPayment, pass *Pass) (*PaymentResult, error)
}

// Pass is the state shared by the payments of one run. A dry run writes
// nothing, so later payments take position interest from here rather than
// from the stored rows. A nil Pass is a live run.
type Pass struct {
	DryRun    bool
	positions map[uuid.UUID]carried
}

type carried struct {
	accruedInterest decimal.Decimal
	lastUpdate      time.Time
}

func NewPass(dryRun bool) *Pass {
	return &Pass{DryRun: dryRun, positions: map[uuid.UUID]carried{}}
}

func (p *Pass) dryRun() bool {
	return p != nil && p.DryRun
}

// restore overwrites pos with interest realized earlier in the pass.
func (p *Pass) restore(pos *domain.BorrowPosition) {
	if p == nil {
		return
	}
	if c, ok := p.positions[pos.PositionID]; ok {
		last := c.lastUpdate
		pos.AccruedInterest = c.accruedInterest
		pos.LastInterestUpdate = &last
	}
}

func (p *Pass) remember(positionID uuid.UUID, remaining decimal.Decimal, now time.Time) {
	if p == nil {
		return
	}
	p.positions[positionID] = carried{accruedInterest: remaining, lastUpdate: now}
}

// Engine turns a pending rent payment into per-holder distributions net of
// debt service. A payment is distributed in one transaction or not at all.
type Engine struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// share is one holder's computed slice of a payment.
type share struct {
	holding  domain.Holding
	position *domain.BorrowPosition
	row      domain.RentDistribution
	// interest left on the position after the deduction
	remaining decimal.Decimal
}

// Distribute applies payment. In a dry-run pass it only reads and returns the
// aggregates a live run would produce.
func (e *Engine) Distribute(ctx context.Context, payment domain.RentPayment, pass *Pass) (*PaymentResult, error) {
	now := e.now()
	if pass.dryRun() {
		shares, err := plan(e.DB.WithContext(ctx), &payment, now, false, pass)
		if err != nil {
			return nil, err
		}
		return summarize(&payment, shares), nil
	}

	var result *PaymentResult
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.RentPayment
		if err := database.ForUpdate(tx).Where("rent_payment_id = ?", payment.RentPaymentID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrRentPaymentNotFound, payment.RentPaymentID)
			}
			return err
		}
		if p.Status != domain.RentStatusPending {
			result = &PaymentResult{RentPaymentID: p.RentPaymentID, PropertyID: p.PropertyID, Skipped: true}
			return nil
		}

		shares, err := plan(tx, &p, now, true, nil)
		if err != nil {
			return err
		}
		for i := range shares {
			if err := apply(tx, &p, &shares[i], now); err != nil {
				return err
			}
		}

		p.Status = domain.RentStatusCompleted
		p.DistributedAt = &now
		if err := tx.Model(&p).Select("Status", "DistributedAt", "UpdatedAt").Updates(&p).Error; err != nil {
			return err
		}
		result = summarize(&p, shares)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// plan computes every holder's share. With lock set the holder rows are
// locked for the enclosing transaction. A non-nil pass supplies and records
// interest realized by earlier payments of a dry run.
func plan(db *gorm.DB, p *domain.RentPayment, now time.Time, lock bool, pass *Pass) ([]share, error) {
	q := db
	if lock {
		q = database.ForUpdate(db)
	}
	var holders []domain.Holding
	if err := q.Where("property_id = ? AND quantity > ?", p.PropertyID, 0).
		Order("user_id ASC").
		Find(&holders).Error; err != nil {
		return nil, err
	}

	totalTokens := decimal.NewFromInt(p.TotalTokens)
	shares := make([]share, 0, len(holders))
	for _, h := range holders {
		qty := decimal.NewFromInt(h.Quantity)
		gross := domain.RoundMoney(qty.Mul(p.PerTokenAmount))

		s := share{holding: h}
		deducted := decimal.Zero

		var pos domain.BorrowPosition
		pq := db
		if lock {
			pq = database.ForUpdate(db)
		}
		err := pq.Where("user_id = ? AND status = ?", h.UserID, domain.PositionStatusActive).First(&pos).Error
		switch {
		case err == nil:
			pass.restore(&pos)
			accrual := lending.Realize(&pos, now)
			deducted = decimal.Min(gross, accrual.TotalInterest)
			s.remaining = domain.RoundMoney(accrual.TotalInterest.Sub(deducted))
			s.position = &pos
			pass.remember(pos.PositionID, s.remaining, now)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}

		s.row = domain.RentDistribution{
			RentPaymentID:    p.RentPaymentID,
			UserID:           h.UserID,
			PropertyID:       p.PropertyID,
			TokensHeld:       h.Quantity,
			TotalTokens:      p.TotalTokens,
			OwnershipPercent: qty.Div(totalTokens).Round(8),
			GrossAmount:      gross,
			InterestDeducted: deducted,
			NetAmount:        gross.Sub(deducted),
			DistributedAt:    now,
		}
		if s.position != nil {
			id := s.position.PositionID
			s.row.PositionID = &id
		}
		shares = append(shares, s)
	}
	return shares, nil
}

func apply(tx *gorm.DB, p *domain.RentPayment, s *share, now time.Time) error {
	if err := tx.Create(&s.row).Error; err != nil {
		return err
	}

	if s.position != nil {
		if s.remaining.IsNegative() {
			return fmt.Errorf("%w: interest on position %s would go negative", domain.ErrInvariantViolation, s.position.PositionID)
		}
		s.position.AccruedInterest = s.remaining
		s.position.LastInterestUpdate = &now
		if err := tx.Model(s.position).Select("AccruedInterest", "LastInterestUpdate", "UpdatedAt").Updates(s.position).Error; err != nil {
			return err
		}
	}

	acct, err := vault.LoadForUpdate(tx, s.holding.UserID)
	if err != nil {
		return err
	}
	if err := vault.Credit(tx, acct, s.row.NetAmount, vault.CountEarned); err != nil {
		return err
	}

	s.holding.RentEarned = domain.RoundMoney(s.holding.RentEarned.Add(s.row.NetAmount))
	s.holding.LastRentDate = &now
	if err := tx.Model(&s.holding).Select("RentEarned", "LastRentDate", "UpdatedAt").Updates(&s.holding).Error; err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"rent_payment_id":   p.RentPaymentID,
		"tokens_held":       s.row.TokensHeld,
		"gross_amount":      s.row.GrossAmount.String(),
		"interest_deducted": s.row.InterestDeducted.String(),
		"period_start":      p.PeriodStart,
		"period_end":        p.PeriodEnd,
	})
	propID := p.PropertyID
	distID := s.row.DistributionID
	return tx.Create(&domain.Transaction{
		UserID:      s.holding.UserID,
		Type:        domain.TxTypeRentDistribution,
		Status:      domain.TxStatusCompleted,
		Amount:      s.row.NetAmount,
		PropertyID:  &propID,
		ReferenceID: &distID,
		Description: "Rental income",
		Metadata:    datatypes.JSON(meta),
	}).Error
}

func summarize(p *domain.RentPayment, shares []share) *PaymentResult {
	r := &PaymentResult{
		RentPaymentID:    p.RentPaymentID,
		PropertyID:       p.PropertyID,
		Holders:          len(shares),
		GrossAmount:      decimal.Zero,
		InterestDeducted: decimal.Zero,
		NetAmount:        decimal.Zero,
		Distributions:    make([]domain.RentDistribution, 0, len(shares)),
	}
	for _, s := range shares {
		r.GrossAmount = r.GrossAmount.Add(s.row.GrossAmount)
		r.InterestDeducted = r.InterestDeducted.Add(s.row.InterestDeducted)
		r.NetAmount = r.NetAmount.Add(s.row.NetAmount)
		r.Distributions = append(r.Distributions, s.row)
	}
	return r
}
