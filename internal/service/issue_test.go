package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/retry"
	"github.com/titantix/gate/internal/serial"
)

// flakyStore fails Insert according to failInsert, which sees the 1-based call number.
type flakyStore struct {
	*repository.MemoryStore
	mu         sync.Mutex
	calls      int
	failInsert func(call int, tickets []model.Ticket) error
}

func (s *flakyStore) Insert(ctx context.Context, tickets []model.Ticket) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.failInsert != nil {
		if err := s.failInsert(call, tickets); err != nil {
			return err
		}
	}
	return s.MemoryStore.Insert(ctx, tickets)
}

func issueRequest(specs ...model.TicketTypeSpec) model.IssueBatchRequest {
	return model.IssueBatchRequest{TicketTypes: specs}
}

func TestIssueBatch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var progress [][2]int
	resp, err := f.svc.IssueBatch(ctx, issueRequest(
		model.TicketTypeSpec{Name: "General", Quantity: 23, Price: 40},
		model.TicketTypeSpec{Name: "VIP", Quantity: 5, Price: 150, StubColor: "#D4AF37"},
	), func(processed, total int) {
		progress = append(progress, [2]int{processed, total})
	})
	require.NoError(t, err)

	assert.Equal(t, 28, resp.Batch.TicketCount)
	assert.Regexp(t, `^BATCH-`, resp.Batch.ID)
	// chunks of 10: 10, 20, 28
	assert.Equal(t, [][2]int{{10, 28}, {20, 28}, {28, 28}}, progress)
	assert.Len(t, resp.Tickets, 8, "preview holds the last chunk only")

	tickets, total, err := f.store.List(ctx, repository.TicketFilter{BatchID: resp.Batch.ID, Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 28, total)

	serials := map[string]bool{}
	tokens := map[string]bool{}
	types := map[string]int{}
	for _, tk := range tickets {
		serials[tk.Serial] = true
		tokens[tk.Token] = true
		types[tk.TicketTypeName]++
		assert.True(t, serial.Valid(tk.Serial), tk.Serial)
		assert.Equal(t, model.StatusUnsold, tk.Status())
		assert.True(t, f.signer.Verify(tk.Token))
		p, err := f.signer.Open(tk.Token)
		require.NoError(t, err)
		assert.Equal(t, tk.Serial, p.Serial)
	}
	assert.Len(t, serials, 28)
	assert.Len(t, tokens, 28)
	assert.Equal(t, map[string]int{"General": 23, "VIP": 5}, types)

	batch, err := f.svc.GetBatch(ctx, resp.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 28, batch.TicketCount)
}

func TestIssueBatch_InitialStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := issueRequest(model.TicketTypeSpec{Name: "Door", Quantity: 3})
	req.InitialStatus = model.StatusSold
	resp, err := f.svc.IssueBatch(ctx, req, nil)
	require.NoError(t, err)
	for _, tk := range resp.Tickets {
		sold, ok := tk.State.(model.Sold)
		require.True(t, ok)
		assert.Equal(t, f.clock.Now(), sold.SoldAt)
		assert.Equal(t, defaultStubColor, tk.StubColor)
	}

	f.svc.issue.InitialStatus = model.StatusSold
	resp, err = f.svc.IssueBatch(ctx, issueRequest(model.TicketTypeSpec{Name: "Door", Quantity: 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSold, resp.Tickets[0].Status())
}

func TestIssueBatch_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]model.IssueBatchRequest{
		"no types":       issueRequest(),
		"zero quantity":  issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 0}),
		"negative price": issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 1, Price: -1}),
		"missing name":   issueRequest(model.TicketTypeSpec{Quantity: 1}),
		"bad status":     {TicketTypes: []model.TicketTypeSpec{{Name: "GEN", Quantity: 1}}, InitialStatus: model.StatusUsed},
	}
	for name, req := range cases {
		_, err := f.svc.IssueBatch(context.Background(), req, nil)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}
	batches, err := f.svc.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestIssueBatch_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	store.failInsert = func(call int, _ []model.Ticket) error {
		if call == 2 || call == 3 {
			return errors.New("connection reset")
		}
		return nil
	}
	f := newFixtureWithStore(t, store)

	resp, err := f.svc.IssueBatch(context.Background(), issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 25}), nil)
	require.NoError(t, err)
	stats, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, stats.Total)
	assert.Len(t, resp.Tickets, 5)
}

func TestIssueBatch_PartialFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	boom := errors.New("disk full")
	store.failInsert = func(call int, _ []model.Ticket) error {
		if call > 2 {
			return boom
		}
		return nil
	}
	f := newFixtureWithStore(t, store)

	var last int
	_, err := f.svc.IssueBatch(context.Background(), issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 45}),
		func(processed, _ int) { last = processed })

	var partial *PartialIssueError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 20, partial.Processed)
	assert.Equal(t, 45, partial.Total)
	assert.Equal(t, 20, last)
	assert.ErrorIs(t, err, boom)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, fastRetry.MaxAttempts, exhausted.Attempts)
	assert.Equal(t, 2+fastRetry.MaxAttempts, store.calls)

	// committed chunks stay committed
	stats, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Total)
	_, err = store.GetBatch(context.Background(), partial.BatchID)
	assert.NoError(t, err)
}

func TestIssueBatch_LostCommitAcknowledgement(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	store.failInsert = func(call int, tickets []model.Ticket) error {
		if call == 1 {
			require.NoError(t, store.MemoryStore.Insert(ctx, tickets))
			return errors.New("timeout waiting for commit")
		}
		return nil
	}
	f := newFixtureWithStore(t, store)

	resp, err := f.svc.IssueBatch(ctx, issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 4}), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	_, total, err := store.List(ctx, repository.TicketFilter{BatchID: resp.Batch.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "the retried chunk is not stored twice")
	require.Len(t, resp.Tickets, 4)
	got, err := store.Get(ctx, resp.Tickets[0].Serial)
	require.NoError(t, err)
	assert.Equal(t, resp.Tickets[0].Token, got.Token)
}

func TestIssueBatch_RegeneratesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	var rejected []string
	store.failInsert = func(call int, tickets []model.Ticket) error {
		if call <= 2 {
			rejected = append(rejected, tickets[0].Serial)
			return &repository.InsertConflictError{Field: "serial", Err: repository.ErrDuplicate}
		}
		return nil
	}
	f := newFixtureWithStore(t, store)

	resp, err := f.svc.IssueBatch(ctx, issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 4}), nil)
	require.NoError(t, err)
	require.Len(t, resp.Tickets, 4)
	for _, sn := range rejected {
		assert.NotEqual(t, sn, resp.Tickets[0].Serial)
	}
	assert.Equal(t, 3, store.calls)
}

func TestIssueBatch_GivesUpOnPersistentCollisions(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	store.failInsert = func(int, []model.Ticket) error {
		return &repository.InsertConflictError{Field: "token", Err: repository.ErrDuplicate}
	}
	f := newFixtureWithStore(t, store)

	_, err := f.svc.IssueBatch(context.Background(), issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 4}), nil)
	var partial *PartialIssueError
	require.ErrorAs(t, err, &partial)
	assert.Zero(t, partial.Processed)
	assert.ErrorIs(t, err, ErrCollisions)
	assert.Equal(t, maxRegenerations+1, store.calls)
}

func TestIssueBatch_NeverOverwritesExistingTickets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing := f.seed(t, "GEN-1111-2222-3333", model.Used{SoldAt: f.clock.Now(), UsedAt: f.clock.Now(), Device: "GATE-AAAA"})

	for i := 0; i < 3; i++ {
		_, err := f.svc.IssueBatch(ctx, issueRequest(model.TicketTypeSpec{Name: "GEN", Quantity: 30}), nil)
		require.NoError(t, err, fmt.Sprint(i))
	}
	got, err := f.store.Get(ctx, existing.Serial)
	require.NoError(t, err)
	assert.Equal(t, existing.Token, got.Token)
	assert.Equal(t, model.StatusUsed, got.Status())
}
