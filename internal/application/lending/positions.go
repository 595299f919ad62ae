package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionView is a position with live, unrealized interest and current
// collateral valuation.
type PositionView struct {
	domain.BorrowPosition
	LiveInterest            decimal.Decimal          `json:"live_interest"`
	TotalDebt               decimal.Decimal          `json:"total_debt"`
	CurrentCollateralValue  decimal.Decimal          `json:"current_collateral_value"`
	CurrentLtvBps           int64                    `json:"current_ltv_bps"`
	LiquidationThresholdBps int64                    `json:"liquidation_threshold_bps"`
	AtRisk                  bool                     `json:"at_risk"`
	Repayments              []domain.BorrowRepayment `json:"repayments,omitempty"`
}

// ListPositions returns the user's positions, newest first.
func (s *Service) ListPositions(ctx context.Context, userID uuid.UUID) ([]PositionView, error) {
	db := s.DB.WithContext(ctx)
	var positions []domain.BorrowPosition
	if err := db.Preload("Collateral").
		Where("user_id = ?", userID).
		Order("borrowed_at DESC").
		Find(&positions).Error; err != nil {
		return nil, err
	}
	prices, err := s.prices(db, positions)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]PositionView, len(positions))
	for i := range positions {
		out[i] = s.view(&positions[i], prices, now)
	}
	return out, nil
}

// GetPosition returns one of the user's positions with its repayment history.
func (s *Service) GetPosition(ctx context.Context, userID, positionID uuid.UUID) (*PositionView, error) {
	db := s.DB.WithContext(ctx)
	var p domain.BorrowPosition
	err := db.Preload("Collateral").Where("position_id = ? AND user_id = ?", positionID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
	}
	if err != nil {
		return nil, err
	}
	prices, err := s.prices(db, []domain.BorrowPosition{p})
	if err != nil {
		return nil, err
	}
	v := s.view(&p, prices, s.now())
	if err := db.Where("position_id = ?", positionID).Order("paid_at ASC").Find(&v.Repayments).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) prices(db *gorm.DB, positions []domain.BorrowPosition) (map[uuid.UUID]decimal.Decimal, error) {
	ids := map[uuid.UUID]struct{}{}
	for _, p := range positions {
		for _, c := range p.Collateral {
			ids[c.PropertyID] = struct{}{}
		}
	}
	out := make(map[uuid.UUID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	var props []domain.Property
	if err := db.Where("property_id IN ?", list).Find(&props).Error; err != nil {
		return nil, err
	}
	for _, p := range props {
		out[p.PropertyID] = p.TokenPrice
	}
	return out, nil
}

func (s *Service) view(p *domain.BorrowPosition, prices map[uuid.UUID]decimal.Decimal, now time.Time) PositionView {
	v := PositionView{BorrowPosition: *p}
	v.LiquidationThresholdBps = p.LiquidationThreshold.Mul(decimal.NewFromInt(10000)).Round(0).IntPart()
	if p.Status != domain.PositionStatusActive {
		v.LiveInterest = decimal.Zero
		v.TotalDebt = decimal.Zero
		v.CurrentCollateralValue = decimal.Zero
		return v
	}

	a := Accrue(p, now)
	v.LiveInterest = a.TotalInterest
	v.TotalDebt = a.TotalDebt

	current := decimal.Zero
	for i := range v.Collateral {
		c := &v.Collateral[i]
		if price, ok := prices[c.PropertyID]; ok {
			c.CurrentValue = domain.RoundMoney(price.Mul(decimal.NewFromInt(c.Amount)))
		}
		if c.Locked {
			current = current.Add(c.CurrentValue)
		}
	}
	v.CurrentCollateralValue = current
	v.CurrentLtvBps = LtvBps(a.TotalDebt, current)
	v.AtRisk = current.IsPositive() && v.CurrentLtvBps >= v.LiquidationThresholdBps
	return v
}
