package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titantix/gate/internal/model"
)

func TestSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()
	soldAt := now.Add(-time.Hour)
	f.seed(t, "GEN-1111-1111-1111", model.Sold{SoldAt: soldAt})
	f.seed(t, "GEN-2222-2222-2222", model.Unsold{})
	f.seed(t, "GEN-3333-3333-3333", model.Used{SoldAt: now, UsedAt: now, Device: "GATE-LIVE"})

	offlineAt := now.Add(-10 * time.Minute)
	resp, err := f.svc.Sync(ctx, model.SyncRequest{Tickets: []model.SyncRecord{
		{Serial: "gen-1111-1111-1111", UsedAt: offlineAt, UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-2222-2222-2222", UsedAt: offlineAt, UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-3333-3333-3333", UsedAt: offlineAt, UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-4444-4444-4444", UsedAt: offlineAt, UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-1111-1111-1111", UsedAt: offlineAt, UsedByDevice: "GATE-OFF2"},
		{Serial: "GEN-5555-5555-5555", UsedByDevice: "GATE-OFF2"},
	}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "Updated 1 tickets", resp.Message)

	outcomes := make([]model.SyncOutcome, len(resp.Results))
	for i, r := range resp.Results {
		outcomes[i] = r.Outcome
	}
	assert.Equal(t, []model.SyncOutcome{
		model.SyncApplied, model.SyncNotSold, model.SyncDuplicate, model.SyncNotFound, model.SyncDuplicate, model.SyncInvalid,
	}, outcomes)
	assert.Contains(t, resp.Results[2].Message, "GATE-LIVE")
	assert.Contains(t, resp.Results[4].Message, "GATE-OFF1")

	got, err := f.store.Get(ctx, "GEN-1111-1111-1111")
	require.NoError(t, err)
	used := got.State.(model.Used)
	assert.True(t, offlineAt.Equal(used.UsedAt), "offline timestamp is kept")
	assert.Equal(t, soldAt, used.SoldAt)

	live, err := f.store.Get(ctx, "GEN-3333-3333-3333")
	require.NoError(t, err)
	assert.Equal(t, "GATE-LIVE", live.State.(model.Used).Device)
}

func TestSync_RejectsEmptyUpload(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Sync(context.Background(), model.SyncRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSync_RejectsImplausibleRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()
	f.seed(t, "GEN-1111-1111-1111", model.Sold{SoldAt: now.Add(-time.Hour)})

	resp, err := f.svc.Sync(ctx, model.SyncRequest{Tickets: []model.SyncRecord{
		{Serial: "GEN-1111-1111-1111", UsedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-1111-1111-1111", UsedAt: now.Add(time.Hour), UsedByDevice: "GATE-OFF1"},
		{Serial: "GEN-1111-1111-1111", Status: model.StatusSold, UsedAt: now, UsedByDevice: "GATE-OFF1"},
	}})
	require.NoError(t, err)
	assert.Zero(t, resp.Count)
	for i, r := range resp.Results {
		assert.Equal(t, model.SyncInvalid, r.Outcome, i)
	}
	assert.Contains(t, resp.Results[0].Message, "before the ticket was sold")
	assert.Contains(t, resp.Results[1].Message, "future")

	got, err := f.store.Get(ctx, "GEN-1111-1111-1111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSold, got.Status())

	// within the allowed clock skew, with the status devices echo back
	resp, err = f.svc.Sync(ctx, model.SyncRequest{Tickets: []model.SyncRecord{
		{Serial: "GEN-1111-1111-1111", Status: model.StatusUsed, UsedAt: now.Add(time.Minute), UsedByDevice: "GATE-OFF1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, model.SyncApplied, resp.Results[0].Outcome)
}
