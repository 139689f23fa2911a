package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/retry"
	"github.com/titantix/gate/internal/serial"
)

const (
	defaultChunkSize = 500
	defaultStubColor = "#F3F1EC"

	// maxRegenerations bounds how often one chunk is regenerated after a
	// serial or token collision, independently of the retry policy.
	maxRegenerations = 5
)

// ErrCollisions is returned when a chunk keeps colliding with existing tickets.
var ErrCollisions = errors.New("serial collisions persisted after regeneration")

// ProgressFunc receives the number of tickets committed so far and the
// batch's total after every chunk.
type ProgressFunc func(processed, total int)

// PartialIssueError reports an issuance that stopped part way. The first
// Processed tickets of the batch are committed and stay committed.
type PartialIssueError struct {
	BatchID   string
	Processed int
	Total     int
	Err       error
}

func (e *PartialIssueError) Error() string {
	return fmt.Sprintf("issue batch %s: %d of %d tickets persisted: %v", e.BatchID, e.Processed, e.Total, e.Err)
}

func (e *PartialIssueError) Unwrap() error { return e.Err }

// IssueBatch creates sum(quantity) tickets under a new batch. Tickets are
// generated and persisted chunk by chunk; only the last chunk is kept in
// memory and returned as a preview.
func (s *TicketService) IssueBatch(ctx context.Context, req model.IssueBatchRequest, progress ProgressFunc) (*model.IssueBatchResponse, error) {
	if err := validateStruct(ctx, s.validate, req); err != nil {
		return nil, err
	}
	status := req.InitialStatus
	if status == "" {
		status = s.issue.InitialStatus
	}
	if status != model.StatusSold {
		status = model.StatusUnsold
	}
	chunkSize := s.issue.ChunkSize
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}

	issuedAt := s.clock()
	total := req.Total()
	batch := model.Batch{
		ID:          "BATCH-" + uuid.NewString(),
		TicketCount: total,
		DesignID:    req.DesignID,
		CreatedAt:   issuedAt,
	}
	log := s.logger.WithFields(logrus.Fields{"batch": batch.ID, "total": total, "status": status})

	bctx, cancel := s.withTimeout(ctx)
	err := s.batches.CreateBatch(bctx, batch)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	gen := chunkGenerator{
		signer:   s.signTicket,
		batchID:  batch.ID,
		status:   status,
		issuedAt: issuedAt,
	}

	processed := 0
	var preview []model.Ticket
	slots := make([]model.TicketTypeSpec, 0, chunkSize)
	flush := func() error {
		chunk, err := s.persistChunk(ctx, gen, slots)
		if err != nil {
			log.WithError(err).WithField("processed", processed).Error("issuance aborted")
			return &PartialIssueError{BatchID: batch.ID, Processed: processed, Total: total, Err: err}
		}
		processed += len(chunk)
		preview = chunk
		slots = slots[:0]
		if progress != nil {
			progress(processed, total)
		}
		return nil
	}

	for _, tt := range req.TicketTypes {
		for i := 0; i < tt.Quantity; i++ {
			slots = append(slots, tt)
			if len(slots) == chunkSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if len(slots) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	log.Info("batch issued")
	return &model.IssueBatchResponse{Batch: batch, Tickets: preview}, nil
}

// persistChunk inserts one chunk under the retry policy. A collision is not
// a transient failure: the chunk gets fresh serials and tokens instead.
func (s *TicketService) persistChunk(ctx context.Context, gen chunkGenerator, slots []model.TicketTypeSpec) ([]model.Ticket, error) {
	chunk, err := gen.generate(slots)
	if err != nil {
		return nil, err
	}

	regenerations := 0
	err = retry.Do(ctx, s.issue.Retry, func(ctx context.Context, attempt int) error {
		for {
			ictx, cancel := s.withTimeout(ctx)
			err := s.tickets.Insert(ictx, chunk)
			cancel()
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return retry.Permanent(err)
			case !errors.Is(err, repository.ErrDuplicate):
				s.logger.WithError(err).WithField("attempt", attempt).Warn("chunk insert failed")
				return err
			}

			committed, cerr := s.chunkCommitted(ctx, chunk)
			if cerr != nil {
				return cerr
			}
			if committed {
				s.logger.WithField("attempt", attempt).Warn("chunk already committed by an earlier attempt")
				return nil
			}
			if regenerations == maxRegenerations {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrCollisions, err))
			}
			regenerations++
			s.logger.WithError(err).Debug("regenerating colliding chunk")
			if chunk, err = gen.generate(slots); err != nil {
				return retry.Permanent(err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// chunkCommitted reports whether chunk is already stored, which happens when
// an earlier insert committed but its acknowledgement was lost. Inserts are
// all or nothing, so the first ticket stands for the chunk.
func (s *TicketService) chunkCommitted(ctx context.Context, chunk []model.Ticket) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	first := chunk[0]
	got, err := s.tickets.Get(ctx, first.Serial)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got.PrintBatchID == first.PrintBatchID && got.Token == first.Token, nil
}

func (s *TicketService) signTicket(serialNo string) (string, error) {
	return s.signer.Sign(serialNo)
}

type chunkGenerator struct {
	signer   func(serial string) (string, error)
	batchID  string
	status   model.Status
	issuedAt time.Time
}

func (g chunkGenerator) generate(slots []model.TicketTypeSpec) ([]model.Ticket, error) {
	out := make([]model.Ticket, len(slots))
	for i, tt := range slots {
		sn, err := serial.New(tt.Name)
		if err != nil {
			return nil, fmt.Errorf("generate serial: %w", err)
		}
		tok, err := g.signer(sn)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", sn, err)
		}

		var state model.State = model.Unsold{}
		if g.status == model.StatusSold {
			state = model.Sold{SoldAt: g.issuedAt}
		}
		color := strings.TrimSpace(tt.StubColor)
		if color == "" {
			color = defaultStubColor
		}
		out[i] = model.Ticket{
			Serial:         sn,
			Token:          tok,
			TicketTypeName: strings.TrimSpace(tt.Name),
			Price:          tt.Price,
			PrintBatchID:   g.batchID,
			StubColor:      color,
			State:          state,
			CreatedAt:      g.issuedAt,
		}
	}
	return out, nil
}
