package lending

import (
	"time"

	"estatevault-backend/internal/domain"

	"github.com/shopspring/decimal"
)

var msPerYear = decimal.NewFromInt(365 * 24 * int64(time.Hour/time.Millisecond))

// Accrual is the interest owed on a position at a point in time.
type Accrual struct {
	NewInterest   decimal.Decimal
	TotalInterest decimal.Decimal
	TotalDebt     decimal.Decimal
	AsOf          time.Time
}

// Accrue computes simple interest since the last realization. Time running
// backwards accrues nothing.
func Accrue(p *domain.BorrowPosition, now time.Time) Accrual {
	elapsed := now.Sub(p.AccrualStart()).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	newInterest := p.Principal.Mul(p.InterestRate).Mul(decimal.NewFromInt(elapsed)).Div(msPerYear)
	newInterest = domain.RoundMoney(newInterest)
	total := domain.RoundMoney(p.AccruedInterest.Add(newInterest))
	return Accrual{
		NewInterest:   newInterest,
		TotalInterest: total,
		TotalDebt:     domain.RoundMoney(p.Principal.Add(total)),
		AsOf:          now,
	}
}

// Realize folds accrued interest into the position and resets the clock.
func Realize(p *domain.BorrowPosition, now time.Time) Accrual {
	a := Accrue(p, now)
	p.AccruedInterest = a.TotalInterest
	p.LastInterestUpdate = &now
	return a
}
