// Package model defines the core domain types for the ticket gate system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle stage of a ticket.
type Status string

const (
	StatusUnsold Status = "UNSOLD"
	StatusSold   Status = "SOLD"
	StatusUsed   Status = "USED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnsold, StatusSold, StatusUsed:
		return true
	}
	return false
}

// ErrInvalidState is returned when stored columns describe an impossible ticket state.
var ErrInvalidState = errors.New("invalid ticket state")

// State is the closed set of ticket states. Only the three variants below
// implement it, so a used ticket always carries its redemption time and device.
type State interface {
	Status() Status
	state()
}

// Unsold is a printed ticket that has not been sold.
type Unsold struct{}

// Sold is a ticket that was sold at SoldAt and may be redeemed once.
type Sold struct {
	SoldAt time.Time
}

// Used is a redeemed ticket. It is terminal.
type Used struct {
	SoldAt time.Time
	UsedAt time.Time
	Device string
}

func (Unsold) Status() Status { return StatusUnsold }
func (Sold) Status() Status   { return StatusSold }
func (Used) Status() Status   { return StatusUsed }

func (Unsold) state() {}
func (Sold) state()   {}
func (Used) state()   {}

// StateFromColumns rebuilds a State from its flattened storage columns.
func StateFromColumns(status Status, soldAt, usedAt *time.Time, device *string) (State, error) {
	switch status {
	case StatusUnsold:
		if usedAt != nil || device != nil {
			return nil, fmt.Errorf("%w: unsold ticket has redemption fields", ErrInvalidState)
		}
		return Unsold{}, nil
	case StatusSold:
		if soldAt == nil {
			return nil, fmt.Errorf("%w: sold ticket without sold_at", ErrInvalidState)
		}
		if usedAt != nil || device != nil {
			return nil, fmt.Errorf("%w: sold ticket has redemption fields", ErrInvalidState)
		}
		return Sold{SoldAt: *soldAt}, nil
	case StatusUsed:
		if soldAt == nil || usedAt == nil || device == nil || *device == "" {
			return nil, fmt.Errorf("%w: used ticket missing sold_at, used_at or device", ErrInvalidState)
		}
		return Used{SoldAt: *soldAt, UsedAt: *usedAt, Device: *device}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, status)
	}
}

// Columns flattens a State into its storage columns. It is the inverse of StateFromColumns.
func Columns(s State) (status Status, soldAt, usedAt *time.Time, device *string) {
	switch v := s.(type) {
	case Sold:
		t := v.SoldAt
		return StatusSold, &t, nil, nil
	case Used:
		st, ut, d := v.SoldAt, v.UsedAt, v.Device
		return StatusUsed, &st, &ut, &d
	default:
		return StatusUnsold, nil, nil, nil
	}
}

// Ticket is a single physical ticket. Serial and Token are fixed at creation;
// only State changes afterwards.
type Ticket struct {
	Serial         string
	Token          string
	TicketTypeName string
	Price          int64
	PrintBatchID   string
	StubColor      string
	State          State
	CreatedAt      time.Time
}

// Status returns the ticket's current lifecycle status.
func (t *Ticket) Status() Status {
	if t.State == nil {
		return StatusUnsold
	}
	return t.State.Status()
}

type ticketJSON struct {
	Serial         string     `json:"serial"`
	Token          string     `json:"token"`
	Status         Status     `json:"status"`
	TicketTypeName string     `json:"ticketTypeName"`
	Price          int64      `json:"price"`
	PrintBatchID   string     `json:"printBatchId"`
	SoldAt         *time.Time `json:"soldAt,omitempty"`
	UsedAt         *time.Time `json:"usedAt,omitempty"`
	UsedByDevice   *string    `json:"usedByDevice,omitempty"`
	StubColor      string     `json:"stubColor,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// MarshalJSON flattens the state into the status/soldAt/usedAt/usedByDevice fields.
func (t Ticket) MarshalJSON() ([]byte, error) {
	state := t.State
	if state == nil {
		state = Unsold{}
	}
	status, soldAt, usedAt, device := Columns(state)
	return json.Marshal(ticketJSON{
		Serial:         t.Serial,
		Token:          t.Token,
		Status:         status,
		TicketTypeName: t.TicketTypeName,
		Price:          t.Price,
		PrintBatchID:   t.PrintBatchID,
		SoldAt:         soldAt,
		UsedAt:         usedAt,
		UsedByDevice:   device,
		StubColor:      t.StubColor,
		CreatedAt:      t.CreatedAt,
	})
}

// UnmarshalJSON rejects payloads whose fields do not form a legal state.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	var w ticketJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	state, err := StateFromColumns(w.Status, w.SoldAt, w.UsedAt, w.UsedByDevice)
	if err != nil {
		return err
	}
	*t = Ticket{
		Serial:         w.Serial,
		Token:          w.Token,
		TicketTypeName: w.TicketTypeName,
		Price:          w.Price,
		PrintBatchID:   w.PrintBatchID,
		StubColor:      w.StubColor,
		State:          state,
		CreatedAt:      w.CreatedAt,
	}
	return nil
}

// Batch groups the tickets created by one issuance run.
// TicketCount is the intended quantity at creation, not a live count.
type Batch struct {
	ID          string    `json:"id"`
	TicketCount int       `json:"ticketCount"`
	DesignID    string    `json:"designId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stats counts tickets per status.
type Stats struct {
	Total  int `json:"total"`
	Unsold int `json:"unsold"`
	Sold   int `json:"sold"`
	Used   int `json:"used"`
}

// User is an administrator allowed to issue, sell and purge tickets.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
