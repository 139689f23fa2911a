package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/yeqown/go-qrcode"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/service"
)

// TicketHandler serves the ticket, gate and batch endpoints.
type TicketHandler struct {
	logger *logrus.Logger
	svc    *service.TicketService
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(logger *logrus.Logger, svc *service.TicketService) *TicketHandler {
	return &TicketHandler{logger: logger, svc: svc}
}

// Scan handles POST /api/scan
// Validates a scanned QR token or typed serial and admits the holder.
func (h *TicketHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req model.ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.Scan(r.Context(), req)
	writeResult(w, r, h.logger, res, err)
}

// Sell handles POST /api/tickets/{serial}/sell
func (h *TicketHandler) Sell(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sell(r.Context(), chi.URLParam(r, "serial"))
	writeResult(w, r, h.logger, res, err)
}

// List handles GET /api/tickets
// Gate apps download the ticket list here before going offline.
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := ticketFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tickets, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, newTicketList(tickets, total))
}

// Get handles GET /api/tickets/{serial}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Lookup handles GET /api/tickets/lookup?token=...
// Tokens carry base64 characters such as '/', so they travel as a query parameter.
func (h *TicketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetByToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// QRCode handles GET /api/tickets/{serial}/qr
// Renders the ticket's token as a JPEG QR code.
func (h *TicketHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "ticket not found")
		return
	}
	qrc, err := qrcode.New(t.Token)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if err := qrc.SaveTo(w); err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("write qr code")
	}
}

// Sync handles POST /api/tickets/sync
// Applies redemptions recorded by gate devices while offline.
func (h *TicketHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req model.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.svc.Sync(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/tickets/{serial}
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "serial")); err != nil {
		writeServiceError(w, r, h.logger, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Purge handles DELETE /api/tickets
func (h *TicketHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Purge(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
}

// Stats handles GET /api/stats
func (h *TicketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
