package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/lease/store"
)

func amendment(id string, seq int) lease.AmendmentRecord {
	return lease.AmendmentRecord{
		PropertyID: "P1", TenantID: "T1", AmendmentID: lease.AmendmentID(id), Sequence: seq,
		Status: lease.StatusActivated, Type: lease.TypeOriginalLease,
		StartDate: lease.MustParseDate("2025-01-01"),
	}
}

func TestMemory_AppendBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendAmendments(ctx, amendment("1", 1)))

	// Second batch reuses id "1": nothing from it may land.
	err := m.AppendAmendments(ctx, amendment("2", 2), amendment("1", 3))
	assert.ErrorIs(t, err, lease.ErrDuplicateAmendmentID)

	rs, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, rs.Amendments, 1)
}

func TestMemory_SnapshotIDChangesOnAppend(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	before, _ := m.Load(ctx)
	again, _ := m.Load(ctx)
	assert.Equal(t, before.ID, again.ID, "no writes, same snapshot")

	require.NoError(t, m.AppendAmendments(ctx, amendment("1", 1)))
	after, _ := m.Load(ctx)
	assert.NotEqual(t, before.ID, after.ID)
}

func TestMemory_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendAmendments(ctx, amendment("1", 1)))

	rs, _ := m.Load(ctx)
	rs.Amendments[0].Sequence = 99

	fresh, _ := m.Load(ctx)
	assert.Equal(t, 1, fresh.Amendments[0].Sequence)
}

func TestMemory_SnapshotIDsDifferAcrossStores(t *testing.T) {
	ctx := context.Background()
	a, b := store.NewMemory(), store.NewMemory()
	require.NoError(t, a.AppendAmendments(ctx, amendment("1", 1)))
	require.NoError(t, b.AppendAmendments(ctx, amendment("1", 1)))

	ra, _ := a.Load(ctx)
	rb, _ := b.Load(ctx)

	assert.NotEqual(t, ra.ID, rb.ID, "same version, different store")
}

func TestMemory_AmendmentsWithoutIDAreNotDuplicates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: one good record and two without an id
	err := m.AppendAmendments(ctx, amendment("1", 1), amendment("", 2), amendment("", 3))

	// THEN: the batch lands; the engine drops the id-less rows as malformed
	require.NoError(t, err)
	rs, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, rs.Amendments, 3)
	clean, warnings := rs.Sanitize()
	assert.Len(t, clean.Amendments, 1)
	require.Len(t, warnings, 2)
	assert.Equal(t, lease.WarnMalformedRecord, warnings[0].Code)

	// AND: a real duplicate is still rejected
	assert.ErrorIs(t, m.AppendAmendments(ctx, amendment("1", 4)), lease.ErrDuplicateAmendmentID)
}
