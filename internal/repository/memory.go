package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/titantix/gate/internal/model"
)

// MemoryStore implements Store in process memory. It is the authoritative
// store when selected (demos, tests); one mutex serialises every operation.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]model.Ticket
	tokens  map[string]string
	order   map[string]int
	seq     int
	batches map[string]model.Batch
	users   map[string]model.User
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[string]model.Ticket),
		tokens:  make(map[string]string),
		order:   make(map[string]int),
		batches: make(map[string]model.Batch),
		users:   make(map[string]model.User),
	}
}

// Get returns a copy of the ticket or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, serial string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[serial]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// GetByToken returns a copy of the ticket carrying token or ErrNotFound.
func (m *MemoryStore) GetByToken(ctx context.Context, token string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	serial, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	t := m.tickets[serial]
	return &t, nil
}

// CompareAndSet applies next if the ticket's status equals expected.
func (m *MemoryStore) CompareAndSet(ctx context.Context, serial string, expected model.Status, next model.State) (*model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[serial]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status() != expected {
		return nil, &ConflictError{Expected: expected, Current: t}
	}
	t.State = next
	m.tickets[serial] = t
	return &t, nil
}

// Insert stores all tickets or, on any duplicate, none.
func (m *MemoryStore) Insert(ctx context.Context, tickets []model.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	serials := make(map[string]struct{}, len(tickets))
	tokens := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if _, dup := m.tickets[t.Serial]; dup {
			return &InsertConflictError{Field: "serial", Err: ErrDuplicate}
		}
		if _, dup := serials[t.Serial]; dup {
			return &InsertConflictError{Field: "serial", Err: ErrDuplicate}
		}
		if _, dup := m.tokens[t.Token]; dup {
			return &InsertConflictError{Field: "token", Err: ErrDuplicate}
		}
		if _, dup := tokens[t.Token]; dup {
			return &InsertConflictError{Field: "token", Err: ErrDuplicate}
		}
		serials[t.Serial] = struct{}{}
		tokens[t.Token] = struct{}{}
	}

	for _, t := range tickets {
		if t.State == nil {
			t.State = model.Unsold{}
		}
		m.tickets[t.Serial] = t
		m.tokens[t.Token] = t.Serial
		m.seq++
		m.order[t.Serial] = m.seq
	}
	return nil
}

// List returns matching tickets, most recently inserted first.
func (m *MemoryStore) List(ctx context.Context, filter TicketFilter) ([]model.Ticket, int, error) {
	filter = filter.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []model.Ticket
	for _, t := range m.tickets {
		if filter.Status != "" && t.Status() != filter.Status {
			continue
		}
		if filter.BatchID != "" && t.PrintBatchID != filter.BatchID {
			continue
		}
		if filter.TypeName != "" && t.TicketTypeName != filter.TypeName {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		return m.order[matched[i].Serial] > m.order[matched[j].Serial]
	})

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// CountByStatus counts tickets per status.
func (m *MemoryStore) CountByStatus(ctx context.Context) (model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats model.Stats
	for _, t := range m.tickets {
		addCount(&stats, t.Status(), 1)
	}
	return stats, nil
}

// Delete removes one ticket.
func (m *MemoryStore) Delete(ctx context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[serial]
	if !ok {
		return ErrNotFound
	}
	delete(m.tickets, serial)
	delete(m.tokens, t.Token)
	delete(m.order, serial)
	return nil
}

// DeleteAll removes every ticket.
func (m *MemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.tickets))
	m.tickets = make(map[string]model.Ticket)
	m.tokens = make(map[string]string)
	m.order = make(map[string]int)
	return n, nil
}

// CreateBatch stores a batch.
func (m *MemoryStore) CreateBatch(ctx context.Context, b model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.batches[b.ID]; dup {
		return &InsertConflictError{Field: "id", Err: ErrDuplicate}
	}
	m.batches[b.ID] = b
	return nil
}

// GetBatch returns a batch or ErrNotFound.
func (m *MemoryStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// ListBatches returns all batches, newest first.
func (m *MemoryStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches := make([]model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].CreatedAt.After(batches[j].CreatedAt) })
	return batches, nil
}

// CreateUser stores an administrator; emails are unique.
func (m *MemoryStore) CreateUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return &InsertConflictError{Field: "email", Err: ErrDuplicate}
		}
	}
	m.users[u.ID] = u
	return nil
}

// GetUserByEmail returns a user or ErrNotFound.
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID returns a user or ErrNotFound.
func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// CountUsers returns the number of administrators.
func (m *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}
