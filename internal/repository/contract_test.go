package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titantix/gate/internal/model"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	_, err := store.DeleteAll(ctx)
	require.NoError(t, err)

	batchID := "BATCH-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CreateBatch(ctx, model.Batch{ID: batchID, TicketCount: 3, CreatedAt: now}))

	mk := func(serial, token string, state model.State) model.Ticket {
		return model.Ticket{
			Serial:         serial,
			Token:          token,
			TicketTypeName: "GEN",
			Price:          25,
			PrintBatchID:   batchID,
			StubColor:      "#F3F1EC",
			State:          state,
			CreatedAt:      now,
		}
	}

	t.Run("insert and get", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, []model.Ticket{
			mk("GEN-1111-2222-3333", "tok-1", model.Unsold{}),
			mk("GEN-AAAA-BBBB-CCCC", "tok-2", model.Sold{SoldAt: now}),
			mk("VIP-AAAA-BBBB-CCCC", "tok-3", model.Sold{SoldAt: now}),
		}))

		got, err := store.Get(ctx, "GEN-1111-2222-3333")
		require.NoError(t, err)
		assert.Equal(t, model.StatusUnsold, got.Status())
		assert.Equal(t, "tok-1", got.Token)
		assert.Equal(t, batchID, got.PrintBatchID)
		assert.Equal(t, int64(25), got.Price)

		byToken, err := store.GetByToken(ctx, "tok-2")
		require.NoError(t, err)
		assert.Equal(t, "GEN-AAAA-BBBB-CCCC", byToken.Serial)

		_, err = store.Get(ctx, "NOP-1111-2222-3333")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetByToken(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insert never overwrites", func(t *testing.T) {
		err := store.Insert(ctx, []model.Ticket{
			mk("NEW-1111-2222-3333", "tok-new", model.Unsold{}),
			mk("GEN-1111-2222-3333", "tok-other", model.Sold{SoldAt: now}),
		})
		var conflict *InsertConflictError
		require.ErrorAs(t, err, &conflict)
		assert.ErrorIs(t, err, ErrDuplicate)

		// all or nothing
		_, err = store.Get(ctx, "NEW-1111-2222-3333")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := store.Get(ctx, "GEN-1111-2222-3333")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", got.Token)

		err = store.Insert(ctx, []model.Ticket{mk("NEW-2222-3333-4444", "tok-1", model.Unsold{})})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("compare and set", func(t *testing.T) {
		soldAt := now.Add(time.Minute)
		got, err := store.CompareAndSet(ctx, "GEN-1111-2222-3333", model.StatusUnsold, model.Sold{SoldAt: soldAt})
		require.NoError(t, err)
		assert.Equal(t, model.StatusSold, got.Status())

		_, err = store.CompareAndSet(ctx, "GEN-1111-2222-3333", model.StatusUnsold, model.Sold{SoldAt: soldAt})
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, model.StatusSold, conflict.Current.Status())

		usedAt := now.Add(2 * time.Minute)
		_, err = store.CompareAndSet(ctx, "GEN-1111-2222-3333", model.StatusSold,
			model.Used{SoldAt: soldAt, UsedAt: usedAt, Device: "GATE-AAAA"})
		require.NoError(t, err)

		got, err = store.Get(ctx, "GEN-1111-2222-3333")
		require.NoError(t, err)
		used, ok := got.State.(model.Used)
		require.True(t, ok)
		assert.Equal(t, "GATE-AAAA", used.Device)
		assert.True(t, usedAt.Equal(used.UsedAt))

		_, err = store.CompareAndSet(ctx, "NOP-1111-2222-3333", model.StatusSold, model.Used{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent compare and set has one winner", func(t *testing.T) {
		const n = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.CompareAndSet(ctx, "VIP-AAAA-BBBB-CCCC", model.StatusSold,
					model.Used{SoldAt: now, UsedAt: time.Now().UTC(), Device: fmt.Sprintf("GATE-%04d", i)})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, n-1, conflicts)
	})

	t.Run("list and count", func(t *testing.T) {
		all, total, err := store.List(ctx, TicketFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, all, 3)

		used, total, err := store.List(ctx, TicketFilter{Status: model.StatusUsed})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, used, 2)

		page, total, err := store.List(ctx, TicketFilter{BatchID: batchID, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, page, 1)

		stats, err := store.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Stats{Total: 3, Unsold: 0, Sold: 1, Used: 2}, stats)
	})

	t.Run("batches", func(t *testing.T) {
		b, err := store.GetBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, 3, b.TicketCount)

		batches, err := store.ListBatches(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, batches)

		_, err = store.GetBatch(ctx, "BATCH-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("users", func(t *testing.T) {
		before, err := store.CountUsers(ctx)
		require.NoError(t, err)

		email := uuid.NewString() + "@titantix.test"
		u := model.User{ID: uuid.NewString(), Email: email, PasswordHash: "hash", Role: "admin", CreatedAt: now}
		require.NoError(t, store.CreateUser(ctx, u))
		assert.ErrorIs(t, store.CreateUser(ctx, model.User{ID: uuid.NewString(), Email: email, PasswordHash: "x", Role: "admin", CreatedAt: now}), ErrDuplicate)

		got, err := store.GetUserByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		got, err = store.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, email, got.Email)

		after, err := store.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)

		_, err = store.GetUserByEmail(ctx, "nobody@titantix.test")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "GEN-AAAA-BBBB-CCCC"))
		assert.ErrorIs(t, store.Delete(ctx, "GEN-AAAA-BBBB-CCCC"), ErrNotFound)

		n, err := store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		stats, err := store.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Stats{}, stats)
	})
}
