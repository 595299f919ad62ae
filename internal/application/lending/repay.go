package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatevault-backend/internal/application/mirror"
	"estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/infrastructure/messaging"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	// SourceAuto draws on the vault first and charges the payment source
	// for any shortfall.
	SourceAuto     = ""
	SourceVault    = "VAULT"
	SourceExternal = "EXTERNAL"
)

type RepayRequest struct {
	UserID     uuid.UUID
	PositionID uuid.UUID
	Amount     decimal.Decimal
	Source     string
	// PaymentSource identifies the stored payment method charged for the
	// external part, "pm_x" or "cus_y:pm_x".
	PaymentSource string
}

type RepayResult struct {
	Repayment          domain.BorrowRepayment    `json:"repayment"`
	Position           domain.BorrowPosition     `json:"position"`
	UnlockedCollateral []domain.BorrowCollateral `json:"unlocked_collateral"`
}

// repayPlan is the split of one repayment, fixed before any money moves.
type repayPlan struct {
	repayAmount   decimal.Decimal
	interestPaid  decimal.Decimal
	principalPaid decimal.Decimal
	vaultPart     decimal.Decimal
	externalPart  decimal.Decimal
	full          bool
}

func (p repayPlan) source() string {
	switch {
	case p.externalPart.IsZero():
		return domain.RepaymentSourceVault
	case p.vaultPart.IsZero():
		return domain.RepaymentSourceExternal
	default:
		return domain.RepaymentSourceMixed
	}
}

// Repay applies a payment to an active position, interest first. On full
// repayment the collateral returns to the holder's free balance.
func (s *Service) Repay(ctx context.Context, req RepayRequest) (*RepayResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if req.Source != SourceAuto && req.Source != SourceVault && req.Source != SourceExternal {
		return nil, fmt.Errorf("%w: source must be VAULT or EXTERNAL", domain.ErrInvalidInput)
	}

	now := s.now()
	db := s.DB.WithContext(ctx)

	pos, err := findActivePosition(db, req.UserID, req.PositionID)
	if err != nil {
		return nil, err
	}
	acct, err := vault.Find(db, req.UserID)
	if err != nil {
		return nil, err
	}
	available := decimal.Zero
	if acct != nil {
		available = acct.Available()
	}
	plan, err := s.plan(pos, now, req, available)
	if err != nil {
		return nil, err
	}

	var chargeRef *string
	if plan.externalPart.IsPositive() {
		ref, err := s.Funds.Charge(ctx, req.PaymentSource, plan.externalPart)
		if err != nil {
			log.Warn().Err(err).Str("position_id", pos.PositionID.String()).Msg("repayment charge failed")
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentRequired, err.Error())
		}
		chargeRef = &ref
	}

	result := &RepayResult{}
	var batch *mirror.Batch
	err = db.Transaction(func(tx *gorm.DB) error {
		var p domain.BorrowPosition
		if err := database.ForUpdate(tx).Where("position_id = ?", pos.PositionID).First(&p).Error; err != nil {
			return err
		}
		if p.Status != domain.PositionStatusActive {
			return fmt.Errorf("%w: position %s is %s", domain.ErrPositionNotFound, p.PositionID, p.Status)
		}
		acct, err := vault.LoadForUpdate(tx, req.UserID)
		if err != nil {
			return err
		}

		plan, err = rebase(&p, now, req, plan.externalPart)
		if err != nil {
			return err
		}
		Realize(&p, now)
		p.AccruedInterest = domain.RoundMoney(p.AccruedInterest.Sub(plan.interestPaid))
		p.Principal = domain.RoundMoney(p.Principal.Sub(plan.principalPaid))
		if p.AccruedInterest.IsNegative() || p.Principal.IsNegative() {
			return fmt.Errorf("%w: repayment drives position %s negative", domain.ErrInvariantViolation, p.PositionID)
		}

		if plan.vaultPart.IsPositive() {
			if err := vault.Debit(tx, acct, plan.vaultPart, vault.CountNone); err != nil {
				return err
			}
		}

		batch = mirror.NewBatch(req.UserID, acct.Wallet())
		if plan.full {
			p.Status = domain.PositionStatusRepaid
			p.RepaidAt = &now
			p.Principal = decimal.Zero
			p.AccruedInterest = decimal.Zero
			unlocked, err := releaseCollateral(tx, &p, acct, now, batch)
			if err != nil {
				return err
			}
			result.UnlockedCollateral = unlocked
		}
		if err := tx.Model(&p).Select("Principal", "AccruedInterest", "LastInterestUpdate", "Status", "RepaidAt", "UpdatedAt").Updates(&p).Error; err != nil {
			return err
		}

		rep := domain.BorrowRepayment{
			PositionID:      p.PositionID,
			UserID:          req.UserID,
			PrincipalPaid:   plan.principalPaid,
			InterestPaid:    plan.interestPaid,
			TotalPaid:       plan.repayAmount,
			Source:          plan.source(),
			ExternalRef:     chargeRef,
			IsFullRepayment: plan.full,
			PaidAt:          now,
		}
		if err := tx.Create(&rep).Error; err != nil {
			return err
		}
		if err := journal(tx, req.UserID, domain.TxTypeLoanRepayment, plan.repayAmount, nil, &p.PositionID, chargeRef, "Loan repayment", map[string]interface{}{
			"repayment_id":    rep.RepaymentID,
			"principal_paid":  plan.principalPaid.String(),
			"interest_paid":   plan.interestPaid.String(),
			"vault_amount":    plan.vaultPart.String(),
			"external_amount": plan.externalPart.String(),
		}); err != nil {
			return err
		}

		batch.RecordRepayment(rep.RepaymentID, plan.principalPaid, plan.interestPaid)
		if err := batch.Save(tx); err != nil {
			return err
		}

		result.Repayment = rep
		result.Position = p
		return nil
	})
	if err != nil {
		if chargeRef != nil {
			log.Error().Err(err).
				Str("position_id", pos.PositionID.String()).
				Str("charge_ref", *chargeRef).
				Str("amount", plan.externalPart.String()).
				Msg("external charge captured but repayment not booked")
		}
		return nil, err
	}

	log.Info().
		Str("position_id", result.Position.PositionID.String()).
		Str("principal_paid", plan.principalPaid.String()).
		Str("interest_paid", plan.interestPaid.String()).
		Bool("full", plan.full).
		Msg("repayment applied")

	s.dispatch(ctx, batch)
	s.Metrics.RecordRepayment(plan.full)
	messaging.PublishLogged(ctx, s.Events, messaging.SubjectLoanRepaid, map[string]interface{}{
		"position_id":    result.Position.PositionID,
		"repayment_id":   result.Repayment.RepaymentID,
		"user_id":        req.UserID,
		"principal_paid": plan.principalPaid,
		"interest_paid":  plan.interestPaid,
		"full":           plan.full,
	})
	return result, nil
}

// split applies the waterfall to the debt as of now.
func split(pos *domain.BorrowPosition, now time.Time, amount decimal.Decimal) (repayPlan, error) {
	accrual := Accrue(pos, now)
	if amount.GreaterThan(accrual.TotalDebt.Mul(domain.RepayOverpayFactor)) {
		return repayPlan{}, fmt.Errorf("%w: amount %s, total debt %s", domain.ErrExceedsDebt, amount.StringFixed(2), accrual.TotalDebt.StringFixed(2))
	}
	p := repayPlan{repayAmount: domain.RoundMoney(decimal.Min(amount, accrual.TotalDebt))}
	p.interestPaid = decimal.Min(p.repayAmount, accrual.TotalInterest)
	p.principalPaid = p.repayAmount.Sub(p.interestPaid)
	p.full = p.repayAmount.GreaterThanOrEqual(accrual.TotalDebt.Sub(domain.RepayTolerance))
	return p, nil
}

func (s *Service) plan(pos *domain.BorrowPosition, now time.Time, req RepayRequest, available decimal.Decimal) (repayPlan, error) {
	p, err := split(pos, now, req.Amount)
	if err != nil {
		return repayPlan{}, err
	}

	switch req.Source {
	case SourceVault:
		if available.LessThan(p.repayAmount) {
			return repayPlan{}, fmt.Errorf("%w: available %s, repayment %s", domain.ErrInsufficientFunds, available.StringFixed(2), p.repayAmount.StringFixed(2))
		}
		p.vaultPart = p.repayAmount
		p.externalPart = decimal.Zero
	case SourceExternal:
		p.vaultPart = decimal.Zero
		p.externalPart = p.repayAmount
	default:
		p.vaultPart = decimal.Min(decimal.Max(available, decimal.Zero), p.repayAmount)
		p.externalPart = p.repayAmount.Sub(p.vaultPart)
	}
	if p.externalPart.IsPositive() && (s.Funds == nil || req.PaymentSource == "") {
		return repayPlan{}, fmt.Errorf("%w: %s must be charged to an external payment source", domain.ErrPaymentRequired, p.externalPart.StringFixed(2))
	}
	return p, nil
}

// rebase recomputes the waterfall against the locked row. The external part
// is already charged, so only the vault part may move.
func rebase(p *domain.BorrowPosition, now time.Time, req RepayRequest, charged decimal.Decimal) (repayPlan, error) {
	fresh, err := split(p, now, req.Amount)
	if err != nil {
		return repayPlan{}, err
	}
	fresh.externalPart = decimal.Min(charged, fresh.repayAmount)
	fresh.vaultPart = fresh.repayAmount.Sub(fresh.externalPart)
	return fresh, nil
}

// releaseCollateral unlocks every pledged lot, returns the tokens to the
// holdings and removes the custody value from the vault.
func releaseCollateral(tx *gorm.DB, p *domain.BorrowPosition, acct *domain.VaultAccount, now time.Time, batch *mirror.Batch) ([]domain.BorrowCollateral, error) {
	var rows []domain.BorrowCollateral
	if err := tx.Where("position_id = ? AND locked = ?", p.PositionID, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		c := &rows[i]
		c.Locked = false
		c.UnlockedAt = &now
		if err := tx.Model(c).Select("Locked", "UnlockedAt", "UpdatedAt").Updates(c).Error; err != nil {
			return nil, err
		}

		var h domain.Holding
		err := database.ForUpdate(tx).Where("user_id = ? AND property_id = ?", p.UserID, c.PropertyID).First(&h).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			h = domain.Holding{UserID: p.UserID, PropertyID: c.PropertyID, Quantity: c.Amount}
			if err := tx.Create(&h).Error; err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			h.Quantity += c.Amount
			if err := tx.Model(&h).Select("Quantity", "UpdatedAt").Updates(&h).Error; err != nil {
				return nil, err
			}
		}

		propID := c.PropertyID
		if err := journal(tx, p.UserID, domain.TxTypeCollateralRelease, c.ValueAtLock, &propID, &p.PositionID, nil,
			fmt.Sprintf("Released %d pledged tokens", c.Amount), map[string]interface{}{"tokens": c.Amount, "collateral_id": c.CollateralID}); err != nil {
			return nil, err
		}
		batch.UnlockCollateral(c.CollateralID, c.TokenID, c.Amount)
	}

	if err := vault.Unlock(tx, acct, p.CollateralValue); err != nil {
		return nil, err
	}
	if err := vault.Debit(tx, acct, p.CollateralValue, vault.CountNone); err != nil {
		return nil, err
	}
	return rows, nil
}

func findActivePosition(db *gorm.DB, userID, positionID uuid.UUID) (*domain.BorrowPosition, error) {
	var p domain.BorrowPosition
	err := db.Where("position_id = ? AND user_id = ?", positionID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
	}
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PositionStatusActive {
		return nil, fmt.Errorf("%w: position %s is %s", domain.ErrPositionNotFound, positionID, p.Status)
	}
	return &p, nil
}
