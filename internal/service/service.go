// Package service implements the ticket lifecycle on top of the store: the
// status machine (sell, redeem), the gate validation protocol, batch issuance,
// offline sync and administrator authentication.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/config"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/token"
)

// ErrInvalidRequest is returned when a request fails validation.
var ErrInvalidRequest = errors.New("invalid request")

// TicketService orchestrates ticket operations against a TicketStore.
// It holds no ticket state of its own; every decision reads the store.
type TicketService struct {
	logger   *logrus.Logger
	tickets  repository.TicketStore
	batches  repository.BatchStore
	signer   *token.Signer
	validate *validator.Validate
	timeout  time.Duration
	issue    config.IssueConfig
	now      func() time.Time
}

// Option customises a TicketService.
type Option func(*TicketService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TicketService) { s.now = now }
}

// WithValidator shares a validator instance between services.
func WithValidator(v *validator.Validate) Option {
	return func(s *TicketService) { s.validate = v }
}

// NewTicketService constructs a TicketService. timeout bounds every store
// call made on behalf of one request; zero disables it.
func NewTicketService(
	logger *logrus.Logger,
	store interface {
		repository.TicketStore
		repository.BatchStore
	},
	signer *token.Signer,
	timeout time.Duration,
	issue config.IssueConfig,
	opts ...Option,
) *TicketService {
	s := &TicketService{
		logger:   logger,
		tickets:  store,
		batches:  store,
		signer:   signer,
		validate: validator.New(),
		timeout:  timeout,
		issue:    issue,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withTimeout scopes one store round-trip. A transition that runs out of time
// is rolled back by the store, never half applied.
func (s *TicketService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *TicketService) clock() time.Time {
	return s.now().UTC()
}

func validateStruct(ctx context.Context, v *validator.Validate, payload any) error {
	err := v.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = fmt.Sprintf("invalid '%s' with value '%v'", f.Namespace(), f.Value())
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, ", "))
}
