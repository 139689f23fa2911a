package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/serial"
	"github.com/titantix/gate/internal/token"
)

// maxScanInput is far above any token this service signs.
const maxScanInput = 2048

// Scan runs the gate validation protocol on a scanned QR token or a serial
// typed in by hand.
//
// A token is checked offline first: a bad signature never reaches the store.
// A bare serial carries no proof, so the stored token is re-verified and a
// failure there is reported as an integrity problem with the store rather
// than as a counterfeit.
func (s *TicketService) Scan(ctx context.Context, req model.ScanRequest) (model.Result, error) {
	input := strings.TrimSpace(req.Input)
	if len(input) > maxScanInput {
		return reject(model.ReasonMalformed, msgUndecodable, nil), nil
	}
	viaToken := strings.Contains(input, ".")

	var serialNo string
	if viaToken {
		p, err := s.signer.Open(input)
		switch {
		case err == nil:
			serialNo = serial.Normalize(p.Serial)
		case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrBadSignature):
			s.logger.WithField("device", req.DeviceID).Warn("counterfeit token scanned")
			return reject(model.ReasonCounterfeit, msgCounterfeit, nil), nil
		case errors.Is(err, token.ErrBadPayload):
			return reject(model.ReasonBadPayload, msgBadPayload, nil), nil
		default:
			return reject(model.ReasonMalformed, msgUndecodable, nil), nil
		}
	} else {
		serialNo = serial.Normalize(input)
	}
	if serialNo == "" {
		return reject(model.ReasonMalformed, msgUndecodable, nil), nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.tickets.Get(ctx, serialNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reject(model.ReasonNotFound, msgNotFound, nil), nil
		}
		s.logger.WithContext(ctx).WithError(err).WithField("serial", serialNo).Error("scan lookup")
		return model.Result{}, fmt.Errorf("scan %s: %w", serialNo, err)
	}

	if !viaToken && !s.storedTokenValid(t) {
		s.logger.WithField("serial", serialNo).Error("stored token failed verification")
		return reject(model.ReasonIntegrity, msgIntegrity, nil), nil
	}

	if t.Status() != model.StatusSold {
		return rejectState(*t), nil
	}

	device := strings.TrimSpace(req.DeviceID)
	if device == "" {
		if device, err = serial.DeviceTag(); err != nil {
			return model.Result{}, fmt.Errorf("device tag: %w", err)
		}
	}
	return s.redeem(ctx, serialNo, device)
}

// storedTokenValid reports whether the ticket's own token is genuine and
// bound to its serial.
func (s *TicketService) storedTokenValid(t *model.Ticket) bool {
	p, err := s.signer.Open(t.Token)
	return err == nil && p.Serial == t.Serial
}
