package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
)

// Handler serves /api/v1/notifications.
type Handler struct {
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewHandler(dispatcher *Dispatcher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{dispatcher: dispatcher, log: log}
}

// List handles GET /api/v1/notifications, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.dispatcher.List(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list notifications", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// MarkAllRead handles POST /api/v1/notifications/read.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := h.dispatcher.MarkAllRead(r.Context(), acc.ID); err != nil {
		h.log.Error("mark notifications read", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
