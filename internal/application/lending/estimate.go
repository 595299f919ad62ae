package lending

import (
	"context"
	"fmt"

	"estatevault-backend/internal/application/holdings"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestEstimate struct {
	Daily   decimal.Decimal `json:"daily"`
	Monthly decimal.Decimal `json:"monthly"`
	Annual  decimal.Decimal `json:"annual"`
}

type Estimate struct {
	CollateralValue   decimal.Decimal  `json:"collateral_value"`
	MaxBorrowable     decimal.Decimal  `json:"max_borrowable"`
	BorrowAmount      decimal.Decimal  `json:"borrow_amount"`
	OriginationFee    decimal.Decimal  `json:"origination_fee"`
	NetDisbursement   decimal.Decimal  `json:"net_disbursement"`
	InterestRate      decimal.Decimal  `json:"interest_rate"`
	LtvBps            int64            `json:"ltv_bps"`
	MaxLtvBps         int64            `json:"max_ltv_bps"`
	EstimatedInterest InterestEstimate `json:"estimated_interest"`
}

// EstimateBorrow previews a loan. Without a borrow amount the maximum
// borrowable is used.
func EstimateBorrow(policy config.LendingConfig, collateralValue decimal.Decimal, borrowAmount *decimal.Decimal) (Estimate, error) {
	if collateralValue.IsNegative() {
		return Estimate{}, fmt.Errorf("%w: collateral_value must not be negative", domain.ErrInvalidInput)
	}
	maxBorrowable := MaxBorrowable(policy, collateralValue)
	amount := maxBorrowable
	if borrowAmount != nil {
		if borrowAmount.IsNegative() {
			return Estimate{}, fmt.Errorf("%w: borrow_amount must not be negative", domain.ErrInvalidInput)
		}
		amount = *borrowAmount
	}
	fee := OriginationFee(policy, amount)
	annual := domain.RoundMoney(amount.Mul(policy.InterestRate))

	return Estimate{
		CollateralValue: domain.RoundMoney(collateralValue),
		MaxBorrowable:   maxBorrowable,
		BorrowAmount:    domain.RoundMoney(amount),
		OriginationFee:  fee,
		NetDisbursement: domain.RoundMoney(amount.Sub(fee)),
		InterestRate:    policy.InterestRate,
		LtvBps:          LtvBps(amount, collateralValue),
		MaxLtvBps:       policy.MaxLtvBps,
		EstimatedInterest: InterestEstimate{
			Daily:   domain.RoundMoney(annual.Div(decimal.NewFromInt(365))),
			Monthly: domain.RoundMoney(annual.Div(decimal.NewFromInt(12))),
			Annual:  annual,
		},
	}, nil
}

func MaxBorrowable(policy config.LendingConfig, collateralValue decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(collateralValue.Mul(domain.Bps(policy.MaxLtvBps)))
}

func OriginationFee(policy config.LendingConfig, amount decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(amount.Mul(domain.Bps(policy.OriginationFeeBps)))
}

// LtvBps is debt over collateral in basis points, 0 when there is no collateral.
func LtvBps(debt, collateralValue decimal.Decimal) int64 {
	if !collateralValue.IsPositive() {
		return 0
	}
	return debt.Mul(decimal.NewFromInt(10000)).Div(collateralValue).Round(0).IntPart()
}

// RateBps expresses an annual rate as basis points, 0.08 -> 800.
func RateBps(rate decimal.Decimal) int64 {
	return rate.Mul(decimal.NewFromInt(10000)).Round(0).IntPart()
}

// Estimate values the given collateral at current token prices and previews
// a loan against it. Ownership is not checked; OpenPosition does that.
func (s *Service) Estimate(ctx context.Context, items []CollateralItem, borrowAmount *decimal.Decimal) (Estimate, error) {
	if len(items) == 0 {
		return Estimate{}, fmt.Errorf("%w: at least one collateral item is required", domain.ErrInvalidInput)
	}
	amounts := make(map[uuid.UUID]int64, len(items))
	for _, item := range items {
		if item.PropertyID == uuid.Nil || item.Amount <= 0 {
			return Estimate{}, fmt.Errorf("%w: collateral items need a property_id and a positive amount", domain.ErrInvalidInput)
		}
		amounts[item.PropertyID] += item.Amount
	}
	db := s.DB.WithContext(ctx)
	total := decimal.Zero
	for propertyID, amount := range amounts {
		prop, err := holdings.FindProperty(db, propertyID)
		if err != nil {
			return Estimate{}, err
		}
		total = total.Add(prop.TokenPrice.Mul(decimal.NewFromInt(amount)))
	}
	return EstimateBorrow(s.Policy, total, borrowAmount)
}
