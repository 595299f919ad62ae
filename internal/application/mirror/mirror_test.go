package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeMirror struct {
	mu       sync.Mutex
	calls    []string
	failOps  map[string]int
	attempts map[string]int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{failOps: map[string]int{}, attempts: map[string]int{}}
}

func (f *fakeMirror) record(op string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[op]++
	if f.attempts[op] <= f.failOps[op] {
		return "", errors.New("rpc unavailable")
	}
	f.calls = append(f.calls, op)
	return "0x" + op, nil
}

func (f *fakeMirror) LockCollateral(context.Context, string, string, int64) (string, error) {
	return f.record(domain.MirrorOpLockCollateral)
}
func (f *fakeMirror) UnlockCollateral(context.Context, string, string, int64) (string, error) {
	return f.record(domain.MirrorOpUnlockCollateral)
}
func (f *fakeMirror) IssueLoan(context.Context, string, decimal.Decimal, int64) (string, error) {
	return f.record(domain.MirrorOpIssueLoan)
}
func (f *fakeMirror) RecordRepayment(context.Context, string, decimal.Decimal, decimal.Decimal) (string, error) {
	return f.record(domain.MirrorOpRecordRepayment)
}
func (f *fakeMirror) SetAssetPrice(context.Context, string, decimal.Decimal) (string, error) {
	return f.record(domain.MirrorOpSetAssetPrice)
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func seedPosition(t *testing.T, db *gorm.DB) (domain.BorrowPosition, domain.BorrowCollateral) {
	t.Helper()
	pos := domain.BorrowPosition{UserID: uuid.New(), Principal: decimal.NewFromInt(2000), InterestRate: decimal.RequireFromString("0.08"),
		CollateralValue: decimal.NewFromInt(5000), CollateralRatio: decimal.RequireFromString("0.4"), LiquidationThreshold: decimal.RequireFromString("0.75"),
		Status: domain.PositionStatusActive, BorrowedAt: time.Now()}
	require.NoError(t, db.Create(&pos).Error)
	col := domain.BorrowCollateral{PositionID: pos.PositionID, PropertyID: uuid.New(), TokenID: "12", Amount: 100,
		ValueAtLock: decimal.NewFromInt(5000), CurrentValue: decimal.NewFromInt(5000), Locked: true, LockedAt: time.Now()}
	require.NoError(t, db.Create(&col).Error)
	return pos, col
}

func newDispatcher(db *gorm.DB, m Mirror) *OutboxDispatcher {
	return NewOutboxDispatcher(db, m, 2, WithRetryInterval(time.Millisecond), WithMaxRetry(2))
}

func TestBatch_SkipsWalletCallsWithoutWallet(t *testing.T) {
	db := setupDB(t)
	b := NewBatch(uuid.New(), "")
	b.SetAssetPrice(uuid.New(), "12", decimal.NewFromInt(50))
	b.IssueLoan(uuid.New(), decimal.NewFromInt(2000), 800)
	require.NoError(t, b.Save(db))

	assert.Equal(t, 1, b.Len())
	var skipped int64
	db.Model(&domain.MirrorEvent{}).Where("status = ?", domain.MirrorStatusSkipped).Count(&skipped)
	assert.Equal(t, int64(1), skipped)
}

func TestProcessGroup_SendsInOrderAndWritesBack(t *testing.T) {
	db := setupDB(t)
	pos, col := seedPosition(t, db)
	m := newFakeMirror()

	b := NewBatch(pos.UserID, "0x52908400098527886E0F7030069857D2E4169EE7")
	b.SetAssetPrice(col.PropertyID, "12", decimal.NewFromInt(50))
	b.LockCollateral(col.CollateralID, "12", 100)
	b.IssueLoan(pos.PositionID, decimal.NewFromInt(2000), 800)
	require.NoError(t, b.Save(db))

	d := newDispatcher(db, m)
	defer d.Stop()
	require.NoError(t, d.ProcessGroup(context.Background(), b.GroupID))

	assert.Equal(t, []string{domain.MirrorOpSetAssetPrice, domain.MirrorOpLockCollateral, domain.MirrorOpIssueLoan}, m.calls)

	var gotPos domain.BorrowPosition
	require.NoError(t, db.First(&gotPos, "position_id = ?", pos.PositionID).Error)
	require.NotNil(t, gotPos.LoanTxRef)
	assert.Equal(t, "0x"+domain.MirrorOpIssueLoan, *gotPos.LoanTxRef)

	var gotCol domain.BorrowCollateral
	require.NoError(t, db.First(&gotCol, "collateral_id = ?", col.CollateralID).Error)
	require.NotNil(t, gotCol.LockTxRef)

	var sent int64
	db.Model(&domain.MirrorEvent{}).Where("group_id = ? AND status = ?", b.GroupID, domain.MirrorStatusSent).Count(&sent)
	assert.Equal(t, int64(3), sent)
}

func TestProcessGroup_RetriesTransientFailure(t *testing.T) {
	db := setupDB(t)
	pos, _ := seedPosition(t, db)
	m := newFakeMirror()
	m.failOps[domain.MirrorOpIssueLoan] = 1

	b := NewBatch(pos.UserID, "0x52908400098527886E0F7030069857D2E4169EE7")
	b.IssueLoan(pos.PositionID, decimal.NewFromInt(2000), 800)
	require.NoError(t, b.Save(db))

	d := newDispatcher(db, m)
	defer d.Stop()
	require.NoError(t, d.ProcessGroup(context.Background(), b.GroupID))

	var e domain.MirrorEvent
	require.NoError(t, db.Where("group_id = ?", b.GroupID).First(&e).Error)
	assert.Equal(t, domain.MirrorStatusSent, e.Status)
	assert.Equal(t, 2, e.Attempts)
}

func TestProcessGroup_FailureStopsGroupAndRetryPendingRecovers(t *testing.T) {
	db := setupDB(t)
	pos, col := seedPosition(t, db)
	m := newFakeMirror()
	m.failOps[domain.MirrorOpLockCollateral] = 10

	b := NewBatch(pos.UserID, "0x52908400098527886E0F7030069857D2E4169EE7")
	b.LockCollateral(col.CollateralID, "12", 100)
	b.IssueLoan(pos.PositionID, decimal.NewFromInt(2000), 800)
	require.NoError(t, b.Save(db))

	d := newDispatcher(db, m)
	defer d.Stop()
	require.Error(t, d.ProcessGroup(context.Background(), b.GroupID))
	assert.Empty(t, m.calls)

	var events []domain.MirrorEvent
	db.Where("group_id = ?", b.GroupID).Order("sequence ASC").Find(&events)
	require.Len(t, events, 2)
	assert.Equal(t, domain.MirrorStatusFailed, events[0].Status)
	require.NotNil(t, events[0].LastError)
	assert.Equal(t, domain.MirrorStatusPending, events[1].Status)

	m.mu.Lock()
	m.failOps[domain.MirrorOpLockCollateral] = 0
	m.mu.Unlock()

	n, err := d.RetryPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{domain.MirrorOpLockCollateral, domain.MirrorOpIssueLoan}, m.calls)
}

func TestProcessGroup_NilMirrorSkips(t *testing.T) {
	db := setupDB(t)
	b := NewBatch(uuid.New(), "0x52908400098527886E0F7030069857D2E4169EE7")
	b.IssueLoan(uuid.New(), decimal.NewFromInt(1), 800)
	require.NoError(t, b.Save(db))

	d := newDispatcher(db, nil)
	defer d.Stop()
	require.NoError(t, d.ProcessGroup(context.Background(), b.GroupID))

	var e domain.MirrorEvent
	require.NoError(t, db.Where("group_id = ?", b.GroupID).First(&e).Error)
	assert.Equal(t, domain.MirrorStatusSkipped, e.Status)
}

type gatedMirror struct {
	*fakeMirror
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedMirror) IssueLoan(ctx context.Context, wallet string, amount decimal.Decimal, rateBps int64) (string, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.fakeMirror.IssueLoan(ctx, wallet, amount, rateBps)
}

func TestDispatch_FullQueueLeavesGroupPending(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	m := &gatedMirror{fakeMirror: newFakeMirror(), entered: make(chan struct{}), gate: make(chan struct{})}
	d := NewOutboxDispatcher(db, m, 1, WithQueueSize(1), WithRetryInterval(time.Millisecond), WithMaxRetry(1))
	defer d.Stop()

	groups := make([]uuid.UUID, 3)
	for i := range groups {
		b := NewBatch(uuid.New(), "0x52908400098527886E0F7030069857D2E4169EE7")
		b.IssueLoan(uuid.New(), decimal.NewFromInt(1), 800)
		require.NoError(t, b.Save(db))
		groups[i] = b.GroupID
	}

	d.Dispatch(ctx, groups[0])
	select {
	case <-m.entered:
	case <-time.After(time.Second):
		t.Fatal("first group never reached the mirror")
	}

	done := make(chan struct{})
	go func() {
		d.Dispatch(ctx, groups[1])
		d.Dispatch(ctx, groups[2])
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch waited for a worker")
	}

	close(m.gate)
	require.Eventually(t, func() bool {
		var sent int64
		db.Model(&domain.MirrorEvent{}).Where("status = ?", domain.MirrorStatusSent).Count(&sent)
		return sent == 2
	}, 2*time.Second, 10*time.Millisecond)

	var dropped domain.MirrorEvent
	require.NoError(t, db.Where("group_id = ?", groups[2]).First(&dropped).Error)
	assert.Equal(t, domain.MirrorStatusPending, dropped.Status)

	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, db.Where("group_id = ?", groups[2]).First(&dropped).Error)
	assert.Equal(t, domain.MirrorStatusSent, dropped.Status)
}
