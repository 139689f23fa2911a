package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/serial"
)

// Messages shown to box-office and gate staff.
const (
	msgSerialNotFound = "Ticket serial not found."
	msgAlreadySold    = "Ticket already sold."
	msgAlreadyUsed    = "Ticket already used."
	msgNotSold        = "This ticket has not been sold yet."
	msgNotFound       = "Ticket not found in system. Potential counterfeit."
	msgCounterfeit    = "Invalid token signature. Counterfeit detected."
	msgUndecodable    = "Could not decode QR code. Invalid format."
	msgBadPayload     = "Invalid QR code payload structure."
	msgIntegrity      = "Internal validation error. Stored token is invalid."
	msgGranted        = "Check-in successful. Welcome!"
)

func soldMessage(serial string) string {
	return fmt.Sprintf("Ticket %s sold successfully!", serial)
}

// duplicateMessage names the first redemption so staff can find the other device.
func duplicateMessage(u model.Used) string {
	return fmt.Sprintf("DUPLICATE SCAN. Already used at %s by %s.", u.UsedAt.UTC().Format(time.RFC3339), u.Device)
}

func reject(reason model.Reason, msg string, t *model.Ticket) model.Result {
	return model.Result{Success: false, Reason: reason, Message: msg, Ticket: t}
}

// Sell moves an UNSOLD ticket to SOLD. Any other status is a rejection and
// leaves the ticket untouched.
func (s *TicketService) Sell(ctx context.Context, serialNo string) (model.Result, error) {
	serialNo = serial.Normalize(serialNo)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.tickets.CompareAndSet(ctx, serialNo, model.StatusUnsold, model.Sold{SoldAt: s.clock()})
	if err == nil {
		s.logger.WithField("serial", serialNo).Info("ticket sold")
		return model.Result{Success: true, Reason: model.ReasonSold, Message: soldMessage(serialNo), Ticket: t}, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return reject(model.ReasonNotFound, msgSerialNotFound, nil), nil
	}
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		current := conflict.Current
		if current.Status() == model.StatusUsed {
			return reject(model.ReasonAlreadyUsed, msgAlreadyUsed, &current), nil
		}
		return reject(model.ReasonAlreadySold, msgAlreadySold, &current), nil
	}

	s.logger.WithContext(ctx).WithError(err).WithField("serial", serialNo).Error("sell ticket")
	return model.Result{}, fmt.Errorf("sell ticket %s: %w", serialNo, err)
}

// Redeem moves a SOLD ticket to USED on behalf of deviceID. Concurrent
// redeems of one serial produce exactly one success; the rest are duplicate
// scans naming the winner.
func (s *TicketService) Redeem(ctx context.Context, serialNo, deviceID string) (model.Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.redeem(ctx, serial.Normalize(serialNo), deviceID)
}

func (s *TicketService) redeem(ctx context.Context, serialNo, deviceID string) (model.Result, error) {
	current, err := s.tickets.Get(ctx, serialNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reject(model.ReasonNotFound, msgNotFound, nil), nil
		}
		return model.Result{}, fmt.Errorf("redeem ticket %s: %w", serialNo, err)
	}

	sold, ok := current.State.(model.Sold)
	if !ok {
		return rejectState(*current), nil
	}

	next := model.Used{SoldAt: sold.SoldAt, UsedAt: s.clock(), Device: deviceID}
	t, err := s.tickets.CompareAndSet(ctx, serialNo, model.StatusSold, next)
	if err == nil {
		s.logger.WithFields(logrus.Fields{"serial": serialNo, "device": deviceID}).Info("ticket redeemed")
		return model.Result{Success: true, Reason: model.ReasonGranted, Message: msgGranted, Ticket: t}, nil
	}
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		return rejectState(conflict.Current), nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return reject(model.ReasonNotFound, msgNotFound, nil), nil
	}

	s.logger.WithContext(ctx).WithError(err).WithField("serial", serialNo).Error("redeem ticket")
	return model.Result{}, fmt.Errorf("redeem ticket %s: %w", serialNo, err)
}

// rejectState explains why a ticket that is not SOLD cannot be redeemed.
func rejectState(t model.Ticket) model.Result {
	switch st := t.State.(type) {
	case model.Used:
		return reject(model.ReasonDuplicate, duplicateMessage(st), &t)
	default:
		return reject(model.ReasonNotSold, msgNotSold, &t)
	}
}
