package model

import "time"

// TicketTypeSpec describes one ticket type in an issuance run.
type TicketTypeSpec struct {
	Name      string `json:"name" validate:"required,max=100"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100000"`
	Price     int64  `json:"price" validate:"min=0"`
	StubColor string `json:"stubColor,omitempty" validate:"omitempty,max=32"`
}

// IssueBatchRequest is the payload for issuing a new batch of tickets.
// InitialStatus falls back to the configured issuance policy when empty.
type IssueBatchRequest struct {
	TicketTypes   []TicketTypeSpec `json:"ticketTypes" validate:"required,min=1,dive"`
	InitialStatus Status           `json:"initialStatus,omitempty" validate:"omitempty,oneof=UNSOLD SOLD"`
	DesignID      string           `json:"designId,omitempty" validate:"omitempty,max=64"`
}

// Total returns the number of tickets the request asks for.
func (r IssueBatchRequest) Total() int {
	n := 0
	for _, t := range r.TicketTypes {
		n += t.Quantity
	}
	return n
}

// IssueBatchResponse is returned after a batch has been fully persisted.
// Tickets holds only the last persisted chunk.
type IssueBatchResponse struct {
	Batch   Batch    `json:"batch"`
	Tickets []Ticket `json:"tickets"`
}

// ScanRequest is what a gate device submits: a full token from the QR code
// or a bare serial typed in by staff.
type ScanRequest struct {
	Input    string `json:"input" validate:"required,max=2048"`
	DeviceID string `json:"deviceId,omitempty" validate:"omitempty,max=64"`
}

// SyncRecord is one ticket a gate device redeemed while offline. Devices
// echo the status they recorded, which can only be USED.
type SyncRecord struct {
	Serial       string    `json:"serial" validate:"required,max=32"`
	Status       Status    `json:"status,omitempty" validate:"omitempty,eq=USED"`
	UsedAt       time.Time `json:"usedAt" validate:"required"`
	UsedByDevice string    `json:"usedByDevice" validate:"required,max=64"`
}

// SyncRequest uploads offline redemptions. Records are validated one by
// one so a bad record does not reject the rest.
type SyncRequest struct {
	Tickets []SyncRecord `json:"tickets" validate:"required,min=1,max=10000"`
}

// SyncOutcome classifies how one offline redemption was applied.
type SyncOutcome string

const (
	SyncApplied   SyncOutcome = "applied"
	SyncDuplicate SyncOutcome = "duplicate"
	SyncNotSold   SyncOutcome = "not_sold"
	SyncNotFound  SyncOutcome = "not_found"
	SyncInvalid   SyncOutcome = "invalid"
)

// SyncResult reports the outcome for one SyncRecord.
type SyncResult struct {
	Serial  string      `json:"serial"`
	Outcome SyncOutcome `json:"outcome"`
	Message string      `json:"message"`
}

// SyncResponse summarises an offline sync upload.
type SyncResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Count   int          `json:"count"`
	Results []SyncResult `json:"results"`
}

// Reason tells gate staff why a sale or scan was accepted or rejected.
type Reason string

const (
	ReasonGranted     Reason = "granted"
	ReasonSold        Reason = "sold"
	ReasonNotFound    Reason = "not_found"
	ReasonAlreadySold Reason = "already_sold"
	ReasonAlreadyUsed Reason = "already_used"
	ReasonDuplicate   Reason = "duplicate_scan"
	ReasonNotSold     Reason = "not_sold"
	ReasonCounterfeit Reason = "counterfeit"
	ReasonMalformed   Reason = "malformed"
	ReasonBadPayload  Reason = "bad_payload"
	ReasonIntegrity   Reason = "integrity"
	ReasonInternal    Reason = "internal"
)

// Result is the outcome of a sell, redeem or scan. A rejection is a Result
// with Success false, never an error.
type Result struct {
	Success bool    `json:"success"`
	Reason  Reason  `json:"reason"`
	Message string  `json:"message"`
	Ticket  *Ticket `json:"ticket,omitempty"`
}

// LoginRequest is the payload for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the payload for creating another administrator.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name,omitempty" validate:"omitempty,max=100"`
}

// AuthResponse carries a signed session token.
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
