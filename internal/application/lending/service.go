// Package lending implements collateralized borrowing against property
// tokens: origination, interest accrual and repayment.
package lending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estatevault-backend/internal/application/funds"
	"estatevault-backend/internal/application/holdings"
	"estatevault-backend/internal/application/mirror"
	"estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/infrastructure/messaging"
	"estatevault-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const KycApproved = "APPROVED"

const (
	DisbursementVault         = "VAULT"
	DisbursementExternal      = "EXTERNAL"
	DisbursementVaultFallback = "VAULT_FALLBACK"
)

// Service is the borrow engine. Funds, Mirror, Events and Metrics are
// optional collaborators.
type Service struct {
	DB      *gorm.DB
	Policy  config.LendingConfig
	Funds   funds.Provider
	Mirror  mirror.Dispatcher
	Events  messaging.Publisher
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type CollateralItem struct {
	PropertyID uuid.UUID
	TokenID    string
	Amount     int64
}

type OpenRequest struct {
	UserID       uuid.UUID
	KycStatus    string
	Collateral   []CollateralItem
	BorrowAmount decimal.Decimal
	// Disbursement is VAULT (default) or EXTERNAL with a Destination.
	Disbursement string
	Destination  string
}

type Disbursement struct {
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	OriginationFee decimal.Decimal `json:"origination_fee"`
	Reference      *string         `json:"reference"`
}

type OpenResult struct {
	Position     domain.BorrowPosition     `json:"position"`
	Collateral   []domain.BorrowCollateral `json:"collateral"`
	Disbursement Disbursement              `json:"disbursement"`
}

type pledge struct {
	property *domain.Property
	holding  *domain.Holding
	tokenID  string
	amount   int64
	value    decimal.Decimal
}

// OpenPosition validates and books a new loan in one transaction, then
// disburses and mirrors it after commit.
func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	if err := validateOpen(&req); err != nil {
		return nil, err
	}
	if req.KycStatus != KycApproved {
		return nil, fmt.Errorf("%w: kyc status is %q", domain.ErrKycRequired, req.KycStatus)
	}

	now := s.now()
	fee := OriginationFee(s.Policy, req.BorrowAmount)
	net := domain.RoundMoney(req.BorrowAmount.Sub(fee))
	result := &OpenResult{}
	var batch *mirror.Batch

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := vault.LoadForUpdate(tx, req.UserID)
		if err != nil {
			return err
		}

		pledges, collateralValue, err := loadPledges(tx, req.UserID, req.Collateral)
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&domain.BorrowPosition{}).
			Where("user_id = ? AND status = ?", req.UserID, domain.PositionStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return domain.ErrActivePositionExists
		}

		maxBorrow := MaxBorrowable(s.Policy, collateralValue)
		if req.BorrowAmount.GreaterThan(maxBorrow) {
			return fmt.Errorf("%w: requested %s, maximum %s", domain.ErrExceedsLtv, req.BorrowAmount.StringFixed(2), maxBorrow.StringFixed(2))
		}
		if req.Disbursement == DisbursementExternal && req.Destination == "" {
			return domain.ErrNoFundsDestination
		}

		pos := domain.BorrowPosition{
			UserID:               req.UserID,
			Principal:            domain.RoundMoney(req.BorrowAmount),
			InterestRate:         s.Policy.InterestRate,
			AccruedInterest:      decimal.Zero,
			CollateralValue:      collateralValue,
			CollateralRatio:      req.BorrowAmount.Div(collateralValue).Round(6),
			LiquidationThreshold: domain.Bps(s.Policy.LiquidationThresholdBps),
			OriginationFee:       fee,
			Status:               domain.PositionStatusActive,
			BorrowedAt:           now,
		}
		if err := tx.Create(&pos).Error; err != nil {
			return err
		}

		batch = mirror.NewBatch(req.UserID, acct.Wallet())
		rows := make([]domain.BorrowCollateral, 0, len(pledges))
		for _, p := range pledges {
			p.holding.Quantity -= p.amount
			if err := tx.Model(p.holding).Select("Quantity", "UpdatedAt").Updates(p.holding).Error; err != nil {
				return err
			}
			row := domain.BorrowCollateral{
				PositionID:   pos.PositionID,
				PropertyID:   p.property.PropertyID,
				TokenID:      p.tokenID,
				Amount:       p.amount,
				ValueAtLock:  p.value,
				CurrentValue: p.value,
				Locked:       true,
				LockedAt:     now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			rows = append(rows, row)

			propID := p.property.PropertyID
			if err := journal(tx, req.UserID, domain.TxTypeCollateralLock, p.value, &propID, &pos.PositionID, nil,
				fmt.Sprintf("Pledged %d tokens as collateral", p.amount), map[string]interface{}{"tokens": p.amount, "collateral_id": row.CollateralID}); err != nil {
				return err
			}
			batch.SetAssetPrice(propID, p.tokenID, p.property.TokenPrice)
			batch.LockCollateral(row.CollateralID, p.tokenID, p.amount)
		}

		// Pledged value is held in custody: it enters the vault as locked
		// balance and leaves again on full repayment.
		if err := vault.Credit(tx, acct, collateralValue, vault.CountNone); err != nil {
			return err
		}
		if err := vault.Lock(tx, acct, collateralValue); err != nil {
			return err
		}

		if err := journal(tx, req.UserID, domain.TxTypeOriginationFee, fee, nil, &pos.PositionID, nil, "Loan origination fee", nil); err != nil {
			return err
		}
		if req.Disbursement != DisbursementExternal {
			if err := vault.Credit(tx, acct, net, vault.CountNone); err != nil {
				return err
			}
			if err := journal(tx, req.UserID, domain.TxTypeLoanDisbursement, net, nil, &pos.PositionID, nil, "Loan proceeds credited to vault", nil); err != nil {
				return err
			}
		}

		batch.IssueLoan(pos.PositionID, pos.Principal, RateBps(pos.InterestRate))
		if err := batch.Save(tx); err != nil {
			return err
		}

		result.Position = pos
		result.Collateral = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Disbursement = Disbursement{Method: DisbursementVault, Amount: net, OriginationFee: fee}
	if req.Disbursement == DisbursementExternal {
		result.Disbursement = s.disburseExternal(ctx, req, result.Position.PositionID, net, fee)
	}

	log.Info().
		Str("position_id", result.Position.PositionID.String()).
		Str("user_id", req.UserID.String()).
		Str("principal", result.Position.Principal.String()).
		Str("collateral_value", result.Position.CollateralValue.String()).
		Str("disbursement", result.Disbursement.Method).
		Msg("borrow position opened")

	s.dispatch(ctx, batch)
	s.Metrics.RecordLoanOpened(result.Disbursement.Method)
	messaging.PublishLogged(ctx, s.Events, messaging.SubjectLoanOpened, map[string]interface{}{
		"position_id":      result.Position.PositionID,
		"user_id":          req.UserID,
		"principal":        result.Position.Principal,
		"collateral_value": result.Position.CollateralValue,
		"origination_fee":  fee,
		"disbursement":     result.Disbursement,
	})
	return result, nil
}

// disburseExternal pays the net proceeds out. Any failure falls back to a
// vault credit; origination itself never fails here.
func (s *Service) disburseExternal(ctx context.Context, req OpenRequest, positionID uuid.UUID, net, fee decimal.Decimal) Disbursement {
	out := Disbursement{Method: DisbursementExternal, Amount: net, OriginationFee: fee}

	var payoutErr error
	if s.Funds == nil {
		payoutErr = funds.ErrNotConfigured
	} else {
		ref, err := s.Funds.Payout(ctx, req.Destination, net)
		if err == nil {
			out.Reference = &ref
			if jerr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return journal(tx, req.UserID, domain.TxTypeLoanDisbursement, net, nil, &positionID, &ref, "Loan proceeds paid out", map[string]interface{}{"destination": req.Destination})
			}); jerr != nil {
				log.Error().Err(jerr).Str("position_id", positionID.String()).Str("payout_ref", ref).Msg("payout sent but not journaled")
			}
			return out
		}
		payoutErr = err
	}

	log.Warn().Err(payoutErr).Str("position_id", positionID.String()).Msg("external payout failed, crediting vault")
	out.Method = DisbursementVaultFallback
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := vault.LoadForUpdate(tx, req.UserID)
		if err != nil {
			return err
		}
		if err := vault.Credit(tx, acct, net, vault.CountNone); err != nil {
			return err
		}
		return journal(tx, req.UserID, domain.TxTypeLoanDisbursement, net, nil, &positionID, nil, "Loan proceeds credited to vault after payout failure",
			map[string]interface{}{"payout_error": payoutErr.Error()})
	})
	if err != nil {
		log.Error().Err(err).Str("position_id", positionID.String()).Str("amount", net.String()).Msg("loan proceeds not disbursed")
	}
	return out
}

func validateOpen(req *OpenRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if len(req.Collateral) == 0 {
		return fmt.Errorf("%w: at least one collateral item is required", domain.ErrInvalidInput)
	}
	for _, c := range req.Collateral {
		if c.PropertyID == uuid.Nil || c.Amount <= 0 {
			return fmt.Errorf("%w: collateral items need a property_id and a positive amount", domain.ErrInvalidInput)
		}
	}
	if !req.BorrowAmount.IsPositive() {
		return fmt.Errorf("%w: borrow_amount must be positive", domain.ErrInvalidInput)
	}
	if req.Disbursement == "" {
		req.Disbursement = DisbursementVault
	}
	if req.Disbursement != DisbursementVault && req.Disbursement != DisbursementExternal {
		return fmt.Errorf("%w: disbursement must be VAULT or EXTERNAL", domain.ErrInvalidInput)
	}
	return nil
}

// loadPledges locks the referenced holdings and values the collateral at
// current token prices. Repeated properties are summed.
func loadPledges(tx *gorm.DB, userID uuid.UUID, items []CollateralItem) ([]*pledge, decimal.Decimal, error) {
	order := make([]uuid.UUID, 0, len(items))
	byProperty := make(map[uuid.UUID]*pledge, len(items))
	for _, item := range items {
		if p, ok := byProperty[item.PropertyID]; ok {
			p.amount += item.Amount
			continue
		}
		byProperty[item.PropertyID] = &pledge{tokenID: item.TokenID, amount: item.Amount}
		order = append(order, item.PropertyID)
	}

	total := decimal.Zero
	out := make([]*pledge, 0, len(order))
	for _, propertyID := range order {
		p := byProperty[propertyID]
		prop, err := holdings.FindProperty(tx, propertyID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if p.tokenID == "" {
			p.tokenID = prop.TokenID
		} else if p.tokenID != prop.TokenID {
			return nil, decimal.Zero, fmt.Errorf("%w: token_id %s does not belong to property %s", domain.ErrInvalidInput, p.tokenID, propertyID)
		}

		var h domain.Holding
		err = database.ForUpdate(tx).Where("user_id = ? AND property_id = ?", userID, propertyID).First(&h).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, decimal.Zero, fmt.Errorf("%w: no holding in property %s", domain.ErrInsufficientCollateral, propertyID)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if h.Quantity < p.amount {
			return nil, decimal.Zero, fmt.Errorf("%w: holds %d tokens of property %s, pledged %d", domain.ErrInsufficientCollateral, h.Quantity, propertyID, p.amount)
		}

		p.property = prop
		p.holding = &h
		p.value = domain.RoundMoney(prop.TokenPrice.Mul(decimal.NewFromInt(p.amount)))
		total = total.Add(p.value)
		out = append(out, p)
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("%w: collateral has no value", domain.ErrInsufficientCollateral)
	}
	return out, total, nil
}

func journal(tx *gorm.DB, userID uuid.UUID, txType string, amount decimal.Decimal, propertyID, referenceID *uuid.UUID, externalRef *string, description string, meta map[string]interface{}) error {
	row := domain.Transaction{
		UserID:      userID,
		Type:        txType,
		Status:      domain.TxStatusCompleted,
		Amount:      domain.RoundMoney(amount),
		PropertyID:  propertyID,
		ReferenceID: referenceID,
		ExternalRef: externalRef,
		Description: description,
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return tx.Create(&row).Error
}

func (s *Service) dispatch(ctx context.Context, batch *mirror.Batch) {
	if s.Mirror == nil || batch == nil || batch.Len() == 0 {
		return
	}
	s.Mirror.Dispatch(ctx, batch.GroupID)
}
