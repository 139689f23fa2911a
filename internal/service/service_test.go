package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/titantix/gate/internal/applog"
	"github.com/titantix/gate/internal/config"
	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/retry"
	"github.com/titantix/gate/internal/token"
)

var testSecret = []byte("test-secret-do-not-use")

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 9, 19, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var fastRetry = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

type fixture struct {
	svc    *TicketService
	store  *repository.MemoryStore
	signer *token.Signer
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store interface {
	repository.TicketStore
	repository.BatchStore
}) *fixture {
	t.Helper()
	clock := newFakeClock()
	signer, err := token.NewSigner(testSecret, token.WithClock(clock.Now))
	require.NoError(t, err)

	issue := config.IssueConfig{InitialStatus: model.StatusUnsold, ChunkSize: 10, Retry: fastRetry}
	svc := NewTicketService(applog.Discard(), store, signer, time.Second, issue, WithClock(clock.Now))

	mem, _ := store.(*repository.MemoryStore)
	return &fixture{svc: svc, store: mem, signer: signer, clock: clock}
}

// seed stores a ticket with a genuine token in the given state.
func (f *fixture) seed(t *testing.T, serialNo string, state model.State) model.Ticket {
	t.Helper()
	tok, err := f.signer.Sign(serialNo)
	require.NoError(t, err)
	tk := model.Ticket{
		Serial:         serialNo,
		Token:          tok,
		TicketTypeName: "GEN",
		Price:          50,
		StubColor:      defaultStubColor,
		State:          state,
		CreatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.store.Insert(context.Background(), []model.Ticket{tk}))
	return tk
}
