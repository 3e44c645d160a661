// Package dashboard serves the profile and admin reporting endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/auth"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
)

// StatsStore aggregates platform-wide numbers for the admin view.
type StatsStore interface {
	TaskCountsByStatus(ctx context.Context) (map[string]int64, error)
	PlatformTotals(ctx context.Context) (escrowHeld, feesCollected int64, err error)
}

// TaskLister serves the per-user task views.
type TaskLister interface {
	ListByPosterID(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error)
	ListByExecutorID(ctx context.Context, executorID uuid.UUID) ([]*models.Task, error)
}

type Handler struct {
	stats StatsStore
	tasks TaskLister
	log   *slog.Logger
}

func NewHandler(stats StatsStore, tasks TaskLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{stats: stats, tasks: tasks, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, auth.AccountToResponse(acc))
}

// MyTasks handles GET /api/v1/account/tasks. Returns tasks the caller posted
// and tasks the caller is executing.
func (h *Handler) MyTasks(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	posted, err := h.tasks.ListByPosterID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list posted tasks", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	executing, err := h.tasks.ListByExecutorID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list executing tasks", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if posted == nil {
		posted = []*models.Task{}
	}
	if executing == nil {
		executing = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posted": posted, "executing": executing})
}

// Stats handles GET /api/v1/admin/stats. Runs behind RequireAdmin.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.stats.TaskCountsByStatus(r.Context())
	if err != nil {
		h.log.Error("task counts", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	escrow, fees, err := h.stats.PlatformTotals(r.Context())
	if err != nil {
		h.log.Error("platform totals", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks_by_status": counts,
		"escrow_held":     escrow,
		"fees_collected":  fees,
	})
}
