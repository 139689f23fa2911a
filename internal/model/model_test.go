package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFromColumns(t *testing.T) {
	now := time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC)
	device := "GATE-AB12"
	empty := ""

	tests := []struct {
		name    string
		status  Status
		soldAt  *time.Time
		usedAt  *time.Time
		device  *string
		want    State
		wantErr bool
	}{
		{name: "unsold", status: StatusUnsold, want: Unsold{}},
		{name: "sold", status: StatusSold, soldAt: &now, want: Sold{SoldAt: now}},
		{name: "used", status: StatusUsed, soldAt: &now, usedAt: &now, device: &device,
			want: Used{SoldAt: now, UsedAt: now, Device: device}},
		{name: "sold without sold_at", status: StatusSold, wantErr: true},
		{name: "used without device", status: StatusUsed, soldAt: &now, usedAt: &now, wantErr: true},
		{name: "used with blank device", status: StatusUsed, soldAt: &now, usedAt: &now, device: &empty, wantErr: true},
		{name: "unsold with used_at", status: StatusUnsold, usedAt: &now, wantErr: true},
		{name: "sold with device", status: StatusSold, soldAt: &now, device: &device, wantErr: true},
		{name: "unknown status", status: "REFUNDED", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StateFromColumns(tt.status, tt.soldAt, tt.usedAt, tt.device)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.status, got.Status())
		})
	}
}

func TestColumnsInvertsStateFromColumns(t *testing.T) {
	now := time.Now().UTC()
	for _, s := range []State{Unsold{}, Sold{SoldAt: now}, Used{SoldAt: now, UsedAt: now.Add(time.Hour), Device: "GATE-ZZZZ"}} {
		status, soldAt, usedAt, device := Columns(s)
		back, err := StateFromColumns(status, soldAt, usedAt, device)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
}

func TestTicketJSONShape(t *testing.T) {
	usedAt := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	ticket := Ticket{
		Serial:         "VIP-AB12-CD34-EF56",
		Token:          "e30=.abc",
		TicketTypeName: "VIP",
		Price:          150,
		PrintBatchID:   "BATCH-1",
		State:          Used{SoldAt: usedAt.Add(-time.Hour), UsedAt: usedAt, Device: "GATE-1234"},
	}

	data, err := json.Marshal(ticket)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "USED", wire["status"])
	assert.Equal(t, "GATE-1234", wire["usedByDevice"])
	assert.Equal(t, "BATCH-1", wire["printBatchId"])
	assert.NotContains(t, wire, "stubColor")

	var back Ticket
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ticket.State, back.State)
}

func TestTicketUnmarshalRejectsIllegalState(t *testing.T) {
	var ticket Ticket
	err := json.Unmarshal([]byte(`{"serial":"GEN-1111-2222-3333","status":"USED"}`), &ticket)
	assert.ErrorIs(t, err, ErrInvalidState)
}
