package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 16

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /check_ban", wrap(http.HandlerFunc(h.CheckBan)))
	mux.Handle("POST /notify", wrap(http.HandlerFunc(h.Notify)))
	mux.Handle("POST /report_fail", wrap(http.HandlerFunc(h.ReportFail)))
}

func (h *Handler) CheckBan(w http.ResponseWriter, r *http.Request) {
	var body AddressRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.service.CheckBan(r.Context(), body.Address); err != nil {
		h.writeServiceError(w, err, "failed to check ban")
		return
	}

	writeOK(w)
}

func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var body Notification
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.service.Notify(r.Context(), body); err != nil {
		h.writeServiceError(w, err, "failed to notify")
		return
	}

	writeOK(w)
}

func (h *Handler) ReportFail(w http.ResponseWriter, r *http.Request) {
	var body AddressRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.service.ReportFail(r.Context(), body.Address); err != nil {
		h.writeServiceError(w, err, "failed to report failure")
		return
	}

	writeOK(w)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrBanned):
		writeError(w, http.StatusForbidden, "banned")
	case errors.Is(err, ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "delivery_failed")
	default:
		sentry.CaptureException(err)
		h.service.logger.Error("request_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
