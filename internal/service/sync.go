package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/serial"
)

// Sync applies redemptions that gate devices recorded while offline. Each
// record goes through the same SOLD to USED transition as a live scan, keeping
// the device's own timestamp; a ticket redeemed elsewhere first is reported as
// a duplicate and never overwritten.
func (s *TicketService) Sync(ctx context.Context, req model.SyncRequest) (*model.SyncResponse, error) {
	if err := validateStruct(ctx, s.validate, req); err != nil {
		return nil, err
	}

	results := make([]model.SyncResult, 0, len(req.Tickets))
	applied := 0
	for _, rec := range req.Tickets {
		res, err := s.syncOne(ctx, rec)
		if err != nil {
			return nil, err
		}
		if res.Outcome == model.SyncApplied {
			applied++
		}
		results = append(results, res)
	}

	s.logger.WithFields(logrus.Fields{"received": len(req.Tickets), "applied": applied}).Info("offline sync")
	return &model.SyncResponse{
		Success: true,
		Message: fmt.Sprintf("Updated %d tickets", applied),
		Count:   applied,
		Results: results,
	}, nil
}

// maxSyncSkew is how far ahead of the server clock a device may stamp a redemption.
const maxSyncSkew = 5 * time.Minute

func (s *TicketService) syncOne(ctx context.Context, rec model.SyncRecord) (model.SyncResult, error) {
	rec.Serial = serial.Normalize(rec.Serial)
	rec.UsedByDevice = strings.TrimSpace(rec.UsedByDevice)
	res := model.SyncResult{Serial: rec.Serial}
	if err := validateStruct(ctx, s.validate, rec); err != nil {
		res.Outcome, res.Message = model.SyncInvalid, err.Error()
		return res, nil
	}
	if rec.UsedAt.IsZero() {
		res.Outcome, res.Message = model.SyncInvalid, "usedAt is required"
		return res, nil
	}
	if rec.UsedAt.After(s.clock().Add(maxSyncSkew)) {
		res.Outcome, res.Message = model.SyncInvalid, "usedAt is in the future"
		return res, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.tickets.Get(ctx, rec.Serial)
	if errors.Is(err, repository.ErrNotFound) {
		res.Outcome, res.Message = model.SyncNotFound, msgSerialNotFound
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("sync %s: %w", rec.Serial, err)
	}

	sold, ok := current.State.(model.Sold)
	if ok && rec.UsedAt.Before(sold.SoldAt) {
		res.Outcome, res.Message = model.SyncInvalid, "usedAt is before the ticket was sold"
		return res, nil
	}
	if ok {
		next := model.Used{SoldAt: sold.SoldAt, UsedAt: rec.UsedAt.UTC(), Device: rec.UsedByDevice}
		_, err = s.tickets.CompareAndSet(ctx, rec.Serial, model.StatusSold, next)
		if err == nil {
			res.Outcome, res.Message = model.SyncApplied, msgGranted
			return res, nil
		}
		var conflict *repository.ConflictError
		if !errors.As(err, &conflict) {
			return res, fmt.Errorf("sync %s: %w", rec.Serial, err)
		}
		current = &conflict.Current
	}

	switch st := current.State.(type) {
	case model.Used:
		res.Outcome, res.Message = model.SyncDuplicate, duplicateMessage(st)
	default:
		res.Outcome, res.Message = model.SyncNotSold, msgNotSold
	}
	return res, nil
}
