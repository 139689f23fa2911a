package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/serial"
)

// Stats counts tickets per status.
func (s *TicketService) Stats(ctx context.Context) (model.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tickets.CountByStatus(ctx)
}

// Get returns a ticket by serial.
func (s *TicketService) Get(ctx context.Context, serialNo string) (*model.Ticket, error) {
	serialNo = serial.Normalize(serialNo)
	if serialNo == "" {
		return nil, fmt.Errorf("%w: serial is required", ErrInvalidRequest)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	t, err := s.tickets.Get(ctx, serialNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// GetByToken finds the ticket a QR token was issued for. Only a token the
// store holds matches; a re-signed token for the same serial does not.
func (s *TicketService) GetByToken(ctx context.Context, tok string) (*model.Ticket, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	t, err := s.tickets.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket by token: %w", err)
	}
	return t, nil
}

// List returns one page of tickets and the total number matching filter.
func (s *TicketService) List(ctx context.Context, filter repository.TicketFilter) ([]model.Ticket, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, filter.Status)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tickets.List(ctx, filter)
}

// GetBatch returns a single batch.
func (s *TicketService) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.batches.GetBatch(ctx, id)
}

// ListBatches returns every batch, newest first.
func (s *TicketService) ListBatches(ctx context.Context) ([]model.Batch, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.batches.ListBatches(ctx)
}

// BatchTickets lists the tickets of one batch.
func (s *TicketService) BatchTickets(ctx context.Context, id string, filter repository.TicketFilter) ([]model.Ticket, int, error) {
	if _, err := s.GetBatch(ctx, id); err != nil {
		return nil, 0, err
	}
	filter.BatchID = id
	return s.List(ctx, filter)
}

// Delete removes one ticket. Administrative purge only.
func (s *TicketService) Delete(ctx context.Context, serialNo string) error {
	serialNo = serial.Normalize(serialNo)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.tickets.Delete(ctx, serialNo); err != nil {
		return err
	}
	s.logger.WithField("serial", serialNo).Warn("ticket deleted")
	return nil
}

// Purge removes every ticket and returns how many were removed.
func (s *TicketService) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.tickets.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge tickets: %w", err)
	}
	s.logger.WithField("count", n).Warn("all tickets purged")
	return n, nil
}
