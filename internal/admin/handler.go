package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"login-gate/internal/ban"
	"login-gate/internal/observability"
)

// BanHandler lets an operator inspect and lift lockouts.
type BanHandler struct {
	store  ban.Store
	logger *observability.Logger
	secret string
}

func NewBanHandler(store ban.Store, logger *observability.Logger, secret string) *BanHandler {
	return &BanHandler{
		store:  store,
		logger: logger,
		secret: strings.TrimSpace(secret),
	}
}

func (h *BanHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/bans", h.List)
	mux.HandleFunc("DELETE /admin/bans/{address}", h.Delete)
}

func (h *BanHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	records, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list_bans_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bans":   records,
	})
}

func (h *BanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	address := strings.TrimSpace(r.PathValue("address"))
	deleted, err := h.store.Delete(r.Context(), address)
	if err != nil {
		h.logger.Error("lift_ban_failed", map[string]any{"address": address, "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	h.logger.Info("ban_lifted", map[string]any{"address": address})
	w.WriteHeader(http.StatusNoContent)
}

func (h *BanHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.secret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return false
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
