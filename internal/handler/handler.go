// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/service"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	default:
		logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// msgRetry is what gate staff see when the store could not answer.
const msgRetry = "Internal error. Please try again."

// writeResult sends a sell or scan outcome. Rejections are 200 so that gate
// clients always get a reason to show; only infrastructure failures are 5xx.
func writeResult(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, res model.Result, err error) {
	if err != nil {
		logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("ticket operation failed")
		writeJSON(w, http.StatusInternalServerError, model.Result{Reason: model.ReasonInternal, Message: msgRetry})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ticketFilter reads list query parameters.
func ticketFilter(r *http.Request) (repository.TicketFilter, error) {
	q := r.URL.Query()
	f := repository.TicketFilter{
		Status:   model.Status(q.Get("status")),
		BatchID:  q.Get("batch"),
		TypeName: q.Get("type"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, errors.New("limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, errors.New("offset must be an integer")
		}
	}
	return f, nil
}

// TicketList is one page of tickets.
type TicketList struct {
	Tickets []model.Ticket `json:"tickets"`
	Total   int            `json:"total"`
}

func newTicketList(tickets []model.Ticket, total int) TicketList {
	// Return an empty array rather than null for better client compatibility.
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return TicketList{Tickets: tickets, Total: total}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
