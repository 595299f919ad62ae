package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/infrastructure/messaging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFunds struct {
	payoutErr error
	chargeErr error
	payouts   []decimal.Decimal
	charges   []decimal.Decimal
}

func (f *fakeFunds) Payout(_ context.Context, _ string, amount decimal.Decimal) (string, error) {
	if f.payoutErr != nil {
		return "", f.payoutErr
	}
	f.payouts = append(f.payouts, amount)
	return "tr_123", nil
}

func (f *fakeFunds) Charge(_ context.Context, _ string, amount decimal.Decimal) (string, error) {
	if f.chargeErr != nil {
		return "", f.chargeErr
	}
	f.charges = append(f.charges, amount)
	return "pi_456", nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	groups []uuid.UUID
}

func (r *recordingDispatcher) Dispatch(_ context.Context, groupID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, groupID)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	clock    time.Time
	userID   uuid.UUID
	property domain.Property
	funds    *fakeFunds
	mirror   *recordingDispatcher
	events   *messaging.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	f := &fixture{
		db:     db,
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		userID: uuid.New(),
		funds:  &fakeFunds{},
		mirror: &recordingDispatcher{},
		events: &messaging.Recorder{},
	}
	f.svc = &Service{
		DB:     db,
		Policy: config.DefaultLending(),
		Mirror: f.mirror,
		Events: f.events,
		Now:    func() time.Time { return f.clock },
	}

	f.property = domain.Property{Name: "Harbor View", TokenID: "42", TokenPrice: d("50"), TotalTokens: 1000, Status: domain.PropertyStatusActive}
	require.NoError(t, db.Create(&f.property).Error)
	require.NoError(t, db.Create(&domain.Holding{UserID: f.userID, PropertyID: f.property.PropertyID, Quantity: 100,
		AverageCost: d("50"), TotalInvested: d("5000"), RentEarned: decimal.Zero}).Error)
	return f
}

func (f *fixture) openReq(amount string) OpenRequest {
	return OpenRequest{
		UserID:       f.userID,
		KycStatus:    KycApproved,
		Collateral:   []CollateralItem{{PropertyID: f.property.PropertyID, TokenID: "42", Amount: 100}},
		BorrowAmount: d(amount),
	}
}

func (f *fixture) vault(t *testing.T) domain.VaultAccount {
	t.Helper()
	var acct domain.VaultAccount
	require.NoError(t, f.db.Where("user_id = ?", f.userID).First(&acct).Error)
	return acct
}

func (f *fixture) holding(t *testing.T) domain.Holding {
	t.Helper()
	var h domain.Holding
	require.NoError(t, f.db.Where("user_id = ? AND property_id = ?", f.userID, f.property.PropertyID).First(&h).Error)
	return h
}

func (f *fixture) setInterest(t *testing.T, positionID uuid.UUID, accrued string) {
	t.Helper()
	require.NoError(t, f.db.Model(&domain.BorrowPosition{}).Where("position_id = ?", positionID).
		Updates(map[string]interface{}{"accrued_interest": d(accrued), "last_interest_update": f.clock}).Error)
}

func TestOpenPosition_Scenario(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusActive, res.Position.Status)
	assert.True(t, res.Position.CollateralValue.Equal(d("5000")))
	assert.True(t, res.Position.OriginationFee.Equal(d("20")))
	assert.True(t, res.Position.CollateralRatio.Equal(d("0.4")))
	assert.True(t, res.Disbursement.Amount.Equal(d("1980")))
	assert.Equal(t, DisbursementVault, res.Disbursement.Method)
	require.Len(t, res.Collateral, 1)
	assert.Equal(t, int64(100), res.Collateral[0].Amount)
	assert.True(t, res.Collateral[0].Locked)

	assert.Equal(t, int64(0), f.holding(t).Quantity)

	acct := f.vault(t)
	assert.True(t, acct.LockedBalance.Equal(d("5000")))
	assert.True(t, acct.Available().Equal(d("1980")))
	assert.True(t, acct.LockedBalance.LessThanOrEqual(acct.TotalBalance))

	var types []string
	f.db.Model(&domain.Transaction{}).Where("user_id = ?", f.userID).Order("type ASC").Pluck("type", &types)
	assert.Equal(t, []string{domain.TxTypeCollateralLock, domain.TxTypeLoanDisbursement, domain.TxTypeOriginationFee}, types)

	require.Len(t, f.events.Events, 1)
	assert.Equal(t, messaging.SubjectLoanOpened, f.events.Events[0].Subject)
}

func TestOpenPosition_ValidationOrderAndNoMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openReq("2000")
	req.KycStatus = "PENDING"
	req.Collateral[0].Amount = 1000
	_, err := f.svc.OpenPosition(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrKycRequired))

	req = f.openReq("2000")
	req.Collateral[0].Amount = 101
	_, err = f.svc.OpenPosition(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCollateral))

	_, err = f.svc.OpenPosition(ctx, f.openReq("2500.01"))
	assert.True(t, errors.Is(err, domain.ErrExceedsLtv))

	req = f.openReq("1000")
	req.Disbursement = DisbursementExternal
	_, err = f.svc.OpenPosition(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrNoFundsDestination))

	assert.Equal(t, int64(100), f.holding(t).Quantity)
	var positions int64
	f.db.Model(&domain.BorrowPosition{}).Count(&positions)
	assert.Equal(t, int64(0), positions)
	var txs int64
	f.db.Model(&domain.Transaction{}).Count(&txs)
	assert.Equal(t, int64(0), txs)
}

func TestOpenPosition_OnlyOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openReq("1000")
	req.Collateral[0].Amount = 50
	_, err := f.svc.OpenPosition(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.OpenPosition(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrActivePositionExists))

	var active int64
	f.db.Model(&domain.BorrowPosition{}).Where("user_id = ? AND status = ?", f.userID, domain.PositionStatusActive).Count(&active)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, int64(50), f.holding(t).Quantity)
}

func TestOpenPosition_DuplicateItemsAggregate(t *testing.T) {
	f := newFixture(t)
	req := f.openReq("1000")
	req.Collateral = []CollateralItem{
		{PropertyID: f.property.PropertyID, Amount: 60},
		{PropertyID: f.property.PropertyID, Amount: 60},
	}
	_, err := f.svc.OpenPosition(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCollateral))
}

func TestOpenPosition_ExternalPayout(t *testing.T) {
	f := newFixture(t)
	f.svc.Funds = f.funds
	req := f.openReq("2000")
	req.Disbursement = DisbursementExternal
	req.Destination = "acct_1"

	res, err := f.svc.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DisbursementExternal, res.Disbursement.Method)
	require.NotNil(t, res.Disbursement.Reference)
	assert.Equal(t, "tr_123", *res.Disbursement.Reference)
	require.Len(t, f.funds.payouts, 1)
	assert.True(t, f.funds.payouts[0].Equal(d("1980")))
	acct := f.vault(t)
	assert.True(t, acct.Available().IsZero())
}

func TestOpenPosition_PayoutFailureFallsBackToVault(t *testing.T) {
	f := newFixture(t)
	f.svc.Funds = &fakeFunds{payoutErr: errors.New("account restricted")}
	req := f.openReq("2000")
	req.Disbursement = DisbursementExternal
	req.Destination = "acct_1"

	res, err := f.svc.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DisbursementVaultFallback, res.Disbursement.Method)
	acct := f.vault(t)
	assert.True(t, acct.Available().Equal(d("1980")))
}

func TestOpenPosition_MirrorOutbox(t *testing.T) {
	f := newFixture(t)
	wallet := "0x52908400098527886E0F7030069857D2E4169EE7"
	_, err := vault.LoadForUpdate(f.db, f.userID)
	require.NoError(t, err)
	f.db.Model(&domain.VaultAccount{}).Where("user_id = ?", f.userID).Update("wallet_address", wallet)

	_, err = f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	require.Len(t, f.mirror.groups, 1)
	var ops []string
	f.db.Model(&domain.MirrorEvent{}).Where("group_id = ?", f.mirror.groups[0]).Order("sequence ASC").Pluck("operation", &ops)
	assert.Equal(t, []string{domain.MirrorOpSetAssetPrice, domain.MirrorOpLockCollateral, domain.MirrorOpIssueLoan}, ops)
}

func TestAccrue_LinearSimpleInterest(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &domain.BorrowPosition{Principal: d("2000"), InterestRate: d("0.08"), AccruedInterest: decimal.Zero, BorrowedAt: start}

	a := Accrue(p, start.Add(365*24*time.Hour))
	assert.True(t, a.TotalInterest.Equal(d("160")), a.TotalInterest.String())
	assert.True(t, a.TotalDebt.Equal(d("2160")))

	a = Accrue(p, start.Add(24*time.Hour))
	assert.True(t, a.NewInterest.Equal(d("0.438356")), a.NewInterest.String())

	assert.True(t, Accrue(p, start.Add(-time.Hour)).NewInterest.IsZero())

	realized := start.Add(24 * time.Hour)
	Realize(p, realized)
	assert.True(t, p.AccruedInterest.Equal(d("0.438356")))
	assert.Equal(t, realized, *p.LastInterestUpdate)
	assert.True(t, Accrue(p, realized).NewInterest.IsZero())
}

func TestRepay_InterestFirst(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)
	f.setInterest(t, res.Position.PositionID, "30")

	out, err := f.svc.Repay(context.Background(), RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("20")})
	require.NoError(t, err)
	assert.True(t, out.Repayment.InterestPaid.Equal(d("20")))
	assert.True(t, out.Repayment.PrincipalPaid.IsZero())
	assert.False(t, out.Repayment.IsFullRepayment)
	assert.Equal(t, domain.RepaymentSourceVault, out.Repayment.Source)
	assert.True(t, out.Position.AccruedInterest.Equal(d("10")))
	assert.True(t, out.Position.Principal.Equal(d("2000")))

	out, err = f.svc.Repay(context.Background(), RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("110")})
	require.NoError(t, err)
	assert.True(t, out.Repayment.InterestPaid.Equal(d("10")))
	assert.True(t, out.Repayment.PrincipalPaid.Equal(d("100")))
	assert.True(t, out.Position.Principal.Equal(d("1900")))
}

func TestRepay_ExceedsDebt(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	_, err = f.svc.Repay(context.Background(), RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("2020.01")})
	assert.True(t, errors.Is(err, domain.ErrExceedsDebt))

	var count int64
	f.db.Model(&domain.BorrowRepayment{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRepay_FullUnlocksCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.OpenPosition(ctx, f.openReq("2000"))
	require.NoError(t, err)
	f.setInterest(t, res.Position.PositionID, "30")
	_, err = vault.Deposit(f.db, f.userID, d("100"), "pi_dep")
	require.NoError(t, err)

	out, err := f.svc.Repay(ctx, RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("2030"), Source: SourceVault})
	require.NoError(t, err)

	assert.True(t, out.Repayment.IsFullRepayment)
	assert.Equal(t, domain.PositionStatusRepaid, out.Position.Status)
	require.NotNil(t, out.Position.RepaidAt)
	require.Len(t, out.UnlockedCollateral, 1)
	assert.False(t, out.UnlockedCollateral[0].Locked)

	assert.Equal(t, int64(100), f.holding(t).Quantity)
	acct := f.vault(t)
	assert.True(t, acct.LockedBalance.IsZero())
	assert.True(t, acct.TotalBalance.Equal(d("50")), acct.TotalBalance.String())

	var col domain.BorrowCollateral
	require.NoError(t, f.db.Where("position_id = ?", res.Position.PositionID).First(&col).Error)
	assert.False(t, col.Locked)
	assert.NotNil(t, col.UnlockedAt)

	_, err = f.svc.Repay(ctx, RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("1")})
	assert.True(t, errors.Is(err, domain.ErrPositionNotFound))

	// A new position is allowed once the previous one is repaid.
	_, err = f.svc.OpenPosition(ctx, f.openReq("100"))
	assert.NoError(t, err)
}

func TestRepay_WithinToleranceIsFull(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("1000"))
	require.NoError(t, err)
	_, err = vault.Deposit(f.db, f.userID, d("10"), "pi_dep")
	require.NoError(t, err)

	out, err := f.svc.Repay(context.Background(), RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("999.995")})
	require.NoError(t, err)
	assert.True(t, out.Repayment.IsFullRepayment)
	assert.True(t, out.Position.Principal.IsZero())
}

func TestRepay_FundingSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.OpenPosition(ctx, f.openReq("2000"))
	require.NoError(t, err)
	id := res.Position.PositionID

	_, err = f.svc.Repay(ctx, RepayRequest{UserID: f.userID, PositionID: id, Amount: d("2000"), Source: SourceVault})
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	_, err = f.svc.Repay(ctx, RepayRequest{UserID: f.userID, PositionID: id, Amount: d("2000")})
	assert.True(t, errors.Is(err, domain.ErrPaymentRequired))

	f.svc.Funds = f.funds
	out, err := f.svc.Repay(ctx, RepayRequest{UserID: f.userID, PositionID: id, Amount: d("2000"), PaymentSource: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, domain.RepaymentSourceMixed, out.Repayment.Source)
	require.Len(t, f.funds.charges, 1)
	assert.True(t, f.funds.charges[0].Equal(d("20")))
	require.NotNil(t, out.Repayment.ExternalRef)
	assert.Equal(t, "pi_456", *out.Repayment.ExternalRef)
	assert.True(t, out.Repayment.IsFullRepayment)
}

func TestRepay_ChargeFailureIsPaymentRequired(t *testing.T) {
	f := newFixture(t)
	f.svc.Funds = &fakeFunds{chargeErr: errors.New("card declined")}
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	_, err = f.svc.Repay(context.Background(), RepayRequest{UserID: f.userID, PositionID: res.Position.PositionID, Amount: d("500"), Source: SourceExternal, PaymentSource: "pm_card"})
	assert.True(t, errors.Is(err, domain.ErrPaymentRequired))
}

func TestRepay_OtherUsersPositionNotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	_, err = f.svc.Repay(context.Background(), RepayRequest{UserID: uuid.New(), PositionID: res.Position.PositionID, Amount: d("1")})
	assert.True(t, errors.Is(err, domain.ErrPositionNotFound))
}

func TestEstimateBorrow(t *testing.T) {
	policy := config.DefaultLending()
	amount := d("2000")

	est, err := EstimateBorrow(policy, d("5000"), &amount)
	require.NoError(t, err)
	assert.True(t, est.MaxBorrowable.Equal(d("2500")))
	assert.True(t, est.OriginationFee.Equal(d("20")))
	assert.True(t, est.NetDisbursement.Equal(d("1980")))
	assert.Equal(t, int64(4000), est.LtvBps)
	assert.True(t, est.EstimatedInterest.Annual.Equal(d("160")))
	assert.True(t, est.EstimatedInterest.Monthly.Equal(d("13.333333")))
	assert.True(t, est.EstimatedInterest.Daily.Equal(d("0.438356")))

	est, err = EstimateBorrow(policy, d("5000"), nil)
	require.NoError(t, err)
	assert.True(t, est.BorrowAmount.Equal(d("2500")))

	_, err = EstimateBorrow(policy, d("-1"), nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestGetPosition_LiveInterestAndRisk(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.OpenPosition(context.Background(), f.openReq("2000"))
	require.NoError(t, err)

	f.clock = f.clock.Add(365 * 24 * time.Hour)
	v, err := f.svc.GetPosition(context.Background(), f.userID, res.Position.PositionID)
	require.NoError(t, err)
	assert.True(t, v.LiveInterest.Equal(d("160")))
	assert.True(t, v.TotalDebt.Equal(d("2160")))
	assert.Equal(t, int64(4320), v.CurrentLtvBps)
	assert.Equal(t, int64(7500), v.LiquidationThresholdBps)
	assert.False(t, v.AtRisk)

	f.db.Model(&domain.Property{}).Where("property_id = ?", f.property.PropertyID).Update("token_price", d("25"))
	v, err = f.svc.GetPosition(context.Background(), f.userID, res.Position.PositionID)
	require.NoError(t, err)
	assert.True(t, v.CurrentCollateralValue.Equal(d("2500")))
	assert.True(t, v.AtRisk)

	list, err := f.svc.ListPositions(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.GetPosition(context.Background(), uuid.New(), res.Position.PositionID)
	assert.True(t, errors.Is(err, domain.ErrPositionNotFound))
}
