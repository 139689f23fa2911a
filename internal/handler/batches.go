package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/service"
)

// partialIssueResponse tells the operator how far an aborted issuance got.
type partialIssueResponse struct {
	Error     string `json:"error"`
	BatchID   string `json:"batchId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

type progressEvent struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// IssueBatch handles POST /api/batches
// With ?stream=1 the response is newline-delimited JSON: one progress event
// per committed chunk followed by the final result or error.
func (h *TicketHandler) IssueBatch(w http.ResponseWriter, r *http.Request) {
	var req model.IssueBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if r.URL.Query().Get("stream") == "1" {
		h.issueStream(w, r, req)
		return
	}

	resp, err := h.svc.IssueBatch(r.Context(), req, func(processed, total int) {
		h.logger.WithContext(r.Context()).Debugf("issued %d/%d tickets", processed, total)
	})
	if err != nil {
		var partial *service.PartialIssueError
		if errors.As(err, &partial) {
			h.logger.WithContext(r.Context()).WithError(err).Error("batch issuance aborted")
			writeJSON(w, http.StatusInternalServerError, partialIssueResponse{
				Error: "batch issuance aborted", BatchID: partial.BatchID, Processed: partial.Processed, Total: partial.Total,
			})
			return
		}
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *TicketHandler) issueStream(w http.ResponseWriter, r *http.Request, req model.IssueBatchRequest) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	emit := func(v any) {
		_ = enc.Encode(v)
		if flusher != nil {
			flusher.Flush()
		}
	}

	resp, err := h.svc.IssueBatch(r.Context(), req, func(processed, total int) {
		emit(progressEvent{Processed: processed, Total: total})
	})
	var partial *service.PartialIssueError
	switch {
	case err == nil:
		emit(resp)
	case errors.As(err, &partial):
		h.logger.WithContext(r.Context()).WithError(err).Error("batch issuance aborted")
		emit(partialIssueResponse{
			Error: "batch issuance aborted", BatchID: partial.BatchID, Processed: partial.Processed, Total: partial.Total,
		})
	default:
		emit(model.ErrorResponse{Error: err.Error()})
	}
}

// ListBatches handles GET /api/batches
func (h *TicketHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.svc.ListBatches(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// GetBatch handles GET /api/batches/{id}
func (h *TicketHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// BatchTickets handles GET /api/batches/{id}/tickets
func (h *TicketHandler) BatchTickets(w http.ResponseWriter, r *http.Request) {
	filter, err := ticketFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tickets, total, err := h.svc.BatchTickets(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, newTicketList(tickets, total))
}
