package distribution

import (
	"context"
	"fmt"
	"time"

	"estatevault-backend/internal/application/holdings"
	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// RentService records incoming rent and serves distribution reads.
type RentService struct {
	DB                          *gorm.DB
	DefaultManagementFeePercent decimal.Decimal
}

type CreateRentPaymentInput struct {
	PropertyID           uuid.UUID
	PeriodStart          time.Time
	PeriodEnd            time.Time
	GrossAmount          decimal.Decimal
	ManagementFeePercent *decimal.Decimal
}

// CreateRentPayment records a PENDING rent payment. The per-token amount is
// the net rent spread over the property's full token supply.
func (s *RentService) CreateRentPayment(ctx context.Context, in CreateRentPaymentInput) (*domain.RentPayment, error) {
	if in.PropertyID == uuid.Nil {
		return nil, fmt.Errorf("%w: property_id is required", domain.ErrInvalidInput)
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return nil, fmt.Errorf("%w: period_end must be after period_start", domain.ErrInvalidInput)
	}
	if !in.GrossAmount.IsPositive() {
		return nil, fmt.Errorf("%w: gross_amount must be positive", domain.ErrInvalidInput)
	}
	pct := s.DefaultManagementFeePercent
	if in.ManagementFeePercent != nil {
		pct = *in.ManagementFeePercent
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: management_fee_percent must be between 0 and 100", domain.ErrInvalidInput)
	}

	var payment domain.RentPayment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prop, err := holdings.FindProperty(tx, in.PropertyID)
		if err != nil {
			return err
		}
		if prop.TotalTokens <= 0 {
			return fmt.Errorf("%w: property %s has no token supply", domain.ErrInvalidInput, prop.PropertyID)
		}

		fee := domain.RoundMoney(in.GrossAmount.Mul(pct).Div(hundred))
		net := domain.RoundMoney(in.GrossAmount.Sub(fee))
		payment = domain.RentPayment{
			PropertyID:     prop.PropertyID,
			PeriodStart:    in.PeriodStart.UTC(),
			PeriodEnd:      in.PeriodEnd.UTC(),
			GrossAmount:    domain.RoundMoney(in.GrossAmount),
			ManagementFee:  fee,
			NetAmount:      net,
			TotalTokens:    prop.TotalTokens,
			PerTokenAmount: domain.RoundMoney(net.Div(decimal.NewFromInt(prop.TotalTokens))),
			Status:         domain.RentStatusPending,
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("rent_payment_id", payment.RentPaymentID.String()).
		Str("property_id", payment.PropertyID.String()).
		Str("net_amount", payment.NetAmount.String()).
		Str("per_token", payment.PerTokenAmount.String()).
		Msg("rent payment recorded")
	return &payment, nil
}

type PaymentFilter struct {
	PropertyID *uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

func (s *RentService) ListRentPayments(ctx context.Context, f PaymentFilter) ([]domain.RentPayment, error) {
	q := s.DB.WithContext(ctx).Model(&domain.RentPayment{})
	if f.PropertyID != nil {
		q = q.Where("property_id = ?", *f.PropertyID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.RentPayment
	err := paginate(q, f.Limit, f.Offset).Order("period_start DESC").Find(&out).Error
	return out, err
}

type DistributionFilter struct {
	PropertyID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// GetUserDistributions returns the user's rent distributions, newest first.
func (s *RentService) GetUserDistributions(ctx context.Context, userID uuid.UUID, f DistributionFilter) ([]domain.RentDistribution, error) {
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if f.PropertyID != nil {
		q = q.Where("property_id = ?", *f.PropertyID)
	}
	if f.From != nil {
		q = q.Where("distributed_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("distributed_at < ?", *f.To)
	}
	var out []domain.RentDistribution
	err := paginate(q, f.Limit, f.Offset).Order("distributed_at DESC").Find(&out).Error
	return out, err
}

type RunFilter struct {
	Status string
	Limit  int
	Offset int
}

// GetDistributionHistory returns distribution runs, newest first.
func (s *RentService) GetDistributionHistory(ctx context.Context, f RunFilter) ([]domain.DistributionRun, error) {
	q := s.DB.WithContext(ctx).Model(&domain.DistributionRun{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.DistributionRun
	err := paginate(q, f.Limit, f.Offset).Order("started_at DESC").Find(&out).Error
	return out, err
}

const maxPageSize = 200

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return q.Limit(limit).Offset(offset)
}
