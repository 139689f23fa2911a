// Package repository is the ticket store: the single source of truth for
// every ticket's state. It offers PostgreSQL, SQLite and in-memory backends
// behind one contract.
//
// Status changes go through CompareAndSet only. Each backend makes the
// read-check-write of a single serial atomic, so two gate devices scanning
// the same ticket at the same instant can never both succeed.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/titantix/gate/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by CompareAndSet when the ticket is not in the expected status.
var ErrConflict = errors.New("status conflict")

// ErrDuplicate is returned when an insert would reuse a unique key.
var ErrDuplicate = errors.New("duplicate key")

// ConflictError carries the ticket as it was when a CompareAndSet lost.
type ConflictError struct {
	Expected model.Status
	Current  model.Ticket
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ticket %s is %s, expected %s", e.Current.Serial, e.Current.Status(), e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InsertConflictError reports which unique key an insert collided on.
// Field is "serial", "token" or "email" when the backend can tell.
type InsertConflictError struct {
	Field string
	Err   error
}

func (e *InsertConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("duplicate key: %v", e.Err)
	}
	return fmt.Sprintf("duplicate %s: %v", e.Field, e.Err)
}

func (e *InsertConflictError) Is(target error) bool { return target == ErrDuplicate }

func (e *InsertConflictError) Unwrap() error { return e.Err }

// TicketFilter narrows List. Zero values match everything.
type TicketFilter struct {
	Status   model.Status
	BatchID  string
	TypeName string
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 100
	maxListLimit     = 5000
)

func (f TicketFilter) normalized() TicketFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TicketStore persists tickets.
type TicketStore interface {
	Get(ctx context.Context, serial string) (*model.Ticket, error)
	GetByToken(ctx context.Context, token string) (*model.Ticket, error)
	// CompareAndSet moves the ticket to next only if its status is expected.
	// It returns the updated ticket, ErrNotFound, or a *ConflictError.
	CompareAndSet(ctx context.Context, serial string, expected model.Status, next model.State) (*model.Ticket, error)
	// Insert stores all tickets or none. It never overwrites an existing ticket.
	Insert(ctx context.Context, tickets []model.Ticket) error
	List(ctx context.Context, filter TicketFilter) ([]model.Ticket, int, error)
	CountByStatus(ctx context.Context) (model.Stats, error)
	Delete(ctx context.Context, serial string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// BatchStore persists issuance batches.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context) ([]model.Batch, error)
}

// UserStore persists administrators.
type UserStore interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Store is everything a backend provides.
type Store interface {
	TicketStore
	BatchStore
	UserStore
}

func addCount(stats *model.Stats, status model.Status, n int) {
	switch status {
	case model.StatusUnsold:
		stats.Unsold += n
	case model.StatusSold:
		stats.Sold += n
	case model.StatusUsed:
		stats.Used += n
	}
	stats.Total += n
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
