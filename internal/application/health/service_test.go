package health

import (
	"context"
	"testing"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type running bool

func (r running) Running() bool { return bool(r) }

func TestCollect_NothingConfigured(t *testing.T) {
	h := &Checker{}
	result := h.Collect(context.Background())
	assert.Equal(t, "issue", result.Status)
	assert.Equal(t, "disconnected", result.Dependencies["database"].Status)
	assert.Equal(t, "disconnected", result.Dependencies["redis"].Status)
	assert.Equal(t, 0, result.Traffic.TotalRequests)
	assert.Nil(t, result.Ledger)
}

func TestCollect_TrafficCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()
	h := &Checker{Redis: rdb}

	result := h.Collect(ctx)
	assert.Equal(t, "connected", result.Dependencies["redis"].Status)
	assert.Equal(t, "100", result.Traffic.SuccessRate)

	require.NoError(t, rdb.Set(ctx, middleware.KeyReqTotal, "10", 0).Err())
	require.NoError(t, rdb.Set(ctx, middleware.KeyReqErrors, "2", 0).Err())
	require.NoError(t, rdb.Set(ctx, middleware.KeyResTime, "150.5", 0).Err())
	require.NoError(t, rdb.Set(ctx, middleware.KeyResCount, "10", 0).Err())
	require.NoError(t, rdb.Set(ctx, middleware.KeyStartTime, "1000000", 0).Err())

	result = h.Collect(ctx)
	assert.Equal(t, 10, result.Traffic.TotalRequests)
	assert.Equal(t, 8, result.Traffic.SuccessCount)
	assert.Equal(t, "80.0", result.Traffic.SuccessRate)
	assert.Equal(t, "15.05", result.Traffic.AvgResponseTime)
}

func TestCollect_LedgerBacklog(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	require.NoError(t, db.Create(&domain.MirrorEvent{
		Operation: domain.MirrorOpSetAssetPrice, UserID: uuid.New(), TargetType: domain.MirrorTargetProperty,
		TargetID: uuid.New(), Payload: datatypes.JSON(`{}`), Status: domain.MirrorStatusFailed, GroupID: uuid.New(),
	}).Error)
	require.NoError(t, db.Create(&domain.RentPayment{
		PropertyID: uuid.New(), GrossAmount: decimal.NewFromInt(10), NetAmount: decimal.NewFromInt(10),
		PerTokenAmount: decimal.NewFromInt(1), TotalTokens: 10, Status: domain.RentStatusPending,
	}).Error)

	h := &Checker{Redis: rdb, DB: &GormPinger{DB: db}, Ledger: db, Distribution: running(true)}
	result := h.Collect(context.Background())
	assert.Equal(t, "ok", result.Status)
	require.NotNil(t, result.Ledger)
	assert.Equal(t, int64(1), result.Ledger.PendingRentPayments)
	assert.Equal(t, int64(1), result.Ledger.MirrorBacklog)
	assert.Equal(t, int64(0), result.Ledger.ActivePositions)
	assert.True(t, result.Ledger.DistributionRunning)
}

func TestResetAndErrorLog(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	h := &Checker{Redis: rdb}

	rdb.LPush(ctx, middleware.KeyErrorLog, `{"message":"boom","status":500}`)
	rdb.Set(ctx, middleware.KeyReqTotal, "3", 0)
	entries, err := h.ErrorLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0]["message"])

	require.NoError(t, h.Reset(ctx))
	assert.False(t, mr.Exists(middleware.KeyReqTotal))
	assert.False(t, mr.Exists(middleware.KeyErrorLog))
	assert.True(t, mr.Exists(middleware.KeyStartTime))
}
