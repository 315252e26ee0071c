package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/cache"
	"github.com/warp/lease-engine/lease"
)

func key(tenant string) cache.Key {
	return cache.Key{
		SetID:      "set-1",
		Lease:      lease.LeaseKey{PropertyID: "P1", TenantID: lease.TenantID(tenant)},
		ReportDate: lease.MustParseDate("2025-06-30"),
	}
}

func entry() cache.Entry {
	resolved := lease.ResolvedLease{
		PropertyID:           "P1",
		TenantID:             "T1",
		CanonicalAmendmentID: "103",
		Sequence:             3,
		Status:               lease.StatusSuperseded,
		Type:                 lease.TypeRenewal,
		MonthlyRent:          decimal.NewFromInt(6000),
		GrossMonthlyRent:     decimal.NewFromInt(6800),
		LeasedArea:           decimal.NewFromInt(2500),
		StartDate:            lease.MustParseDate("2024-01-01"),
		EndDate:              lease.DatePtr(lease.MustParseDate("2028-12-31")),
		DataQualityFlags:     lease.Flags{lease.WarnDuplicateSequence},
	}
	return cache.Entry{
		Lease: &resolved,
		Warnings: []lease.Warning{
			lease.DuplicateSequenceWarning(resolved.Key(), "103", 3, 2),
		},
	}
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "lease:set-1:P1/T1:2025-06-30", key("T1").String())
}

func TestNop_NeverHits(t *testing.T) {
	ctx := context.Background()
	c := cache.Nop{}
	require.NoError(t, c.Set(ctx, key("T1"), entry()))

	_, ok, err := c.Get(ctx, key("T1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// LRU
// =============================================================================

func TestLRU_GetSet(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewLRU(10)
	require.NoError(t, err)

	_, ok, _ := c.Get(ctx, key("T1"))
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key("T1"), entry()))
	got, ok, err := c.Get(ctx, key("T1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lease.AmendmentID("103"), got.Lease.CanonicalAmendmentID)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewLRU(2)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, key("T1"), entry()))
	require.NoError(t, c.Set(ctx, key("T2"), entry()))
	_, _, _ = c.Get(ctx, key("T1")) // T1 is now most recent
	require.NoError(t, c.Set(ctx, key("T3"), entry()))

	_, ok, _ := c.Get(ctx, key("T2"))
	assert.False(t, ok, "T2 evicted")
	_, ok, _ = c.Get(ctx, key("T1"))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_DistinguishesReportDates(t *testing.T) {
	ctx := context.Background()
	c, _ := cache.NewLRU(10)
	require.NoError(t, c.Set(ctx, key("T1"), entry()))

	other := key("T1")
	other.ReportDate = lease.MustParseDate("2025-07-31")
	_, ok, _ := c.Get(ctx, other)
	assert.False(t, ok)
}

// =============================================================================
// REDIS
// =============================================================================

func TestRedis_SetThenGet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := cache.NewRedisWithClient(db, time.Hour)

	e := entry()
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectSet(key("T1").String(), raw, time.Hour).SetVal("OK")
	require.NoError(t, c.Set(ctx, key("T1"), e))

	mock.ExpectGet(key("T1").String()).SetVal(string(raw))
	got, ok, err := c.Get(ctx, key("T1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Lease)
	assert.Equal(t, lease.AmendmentID("103"), got.Lease.CanonicalAmendmentID)
	assert.Equal(t, lease.StatusSuperseded, got.Lease.Status)
	assert.True(t, decimal.NewFromInt(6000).Equal(got.Lease.MonthlyRent))
	assert.True(t, got.Lease.EndDate.Equal(lease.MustParseDate("2028-12-31")))
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, lease.WarnDuplicateSequence, got.Warnings[0].Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_MissIsNotAnError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := cache.NewRedisWithClient(db, 0)

	mock.ExpectGet(key("T9").String()).RedisNil()
	_, ok, err := c.Get(context.Background(), key("T9"))

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_BackendErrorSurfaces(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := cache.NewRedisWithClient(db, 0)

	mock.ExpectGet(key("T1").String()).SetErr(redis.TxFailedErr)
	_, _, err := c.Get(context.Background(), key("T1"))

	assert.Error(t, err)
}

func TestRedis_CorruptEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := cache.NewRedisWithClient(db, 0)

	mock.ExpectGet(key("T1").String()).SetVal("{not json")
	_, ok, err := c.Get(context.Background(), key("T1"))

	assert.Error(t, err)
	assert.False(t, ok)
}
