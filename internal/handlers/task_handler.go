package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

// Lifecycle is the slice of the lifecycle controller the handler needs.
type Lifecycle interface {
	CreateFundedTask(ctx context.Context, posterID uuid.UUID, in services.CreateTaskInput) (*models.Task, error)
	Transition(ctx context.Context, taskID uuid.UUID, action services.Action, actorID uuid.UUID, opts services.TransitionOpts) (*models.Task, error)
	AcceptOffer(ctx context.Context, taskID, offerID, actorID uuid.UUID) (*models.Task, error)
}

// Offers is the slice of the offer service the handler needs.
type Offers interface {
	SubmitOffer(ctx context.Context, taskID, userID uuid.UUID, price int64, message string) (*models.Offer, error)
	RejectOffer(ctx context.Context, taskID, offerID, actorID uuid.UUID) error
	ListOffers(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error)
}

// TaskReader serves the read-only task endpoints.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context) ([]*models.Task, error)
}

// AttachmentStore persists proof-of-work attachments.
type AttachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Attachment, error)
}

// TaskLedger reads the ledger entries attributed to a task.
type TaskLedger interface {
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error)
}

// TaskHandler serves the /api/v1/tasks endpoints.
type TaskHandler struct {
	Lifecycle   Lifecycle
	Offers      Offers
	Tasks       TaskReader
	Attachments AttachmentStore
	Ledger      TaskLedger
	Validator   *services.Validator
	Logger      *slog.Logger
}

// --- POST /api/v1/tasks ---

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Budget      int64  `json:"budget"`
	ServiceTier string `json:"service_tier"`
}

// HandleTasks serves GET (browse) and POST (create) on /api/v1/tasks.
func (h *TaskHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// createTask posts a funded task. The tier multiplier is applied server side
// and the full budget moves into escrow before the task becomes visible.
func (h *TaskHandler) createTask(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.ValidateCreateTask(generic); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate create task", "error", err)
		http.Error(w, `{"error":"validation failed"}`, http.StatusBadRequest)
		return
	}

	var req createTaskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Lifecycle.CreateFundedTask(r.Context(), acc.ID, services.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		BaseBudget:  req.Budget,
		ServiceTier: req.ServiceTier,
	})
	if err != nil {
		h.writeTransitionError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.List(r.Context())
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- /api/v1/tasks/{id}... ---

// HandleTaskSubtree dispatches everything under /api/v1/tasks/{id}.
//
//	GET  /tasks/{id}
//	GET|POST /tasks/{id}/offers
//	POST /tasks/{id}/offers/{offerId}/accept
//	POST /tasks/{id}/offers/{offerId}/reject
//	POST /tasks/{id}/start|submit|release|cancel|dispute|resolve
//	GET|POST /tasks/{id}/attachments
//	GET  /tasks/{id}/transactions
func (h *TaskHandler) HandleTaskSubtree(w http.ResponseWriter, r *http.Request) {
	parts := splitTaskPath(r)
	if len(parts) == 0 {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	taskID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getTask(w, r, taskID)
	case len(parts) == 2 && parts[1] == "offers":
		h.handleOffers(w, r, taskID)
	case len(parts) == 4 && parts[1] == "offers":
		h.handleOfferDecision(w, r, taskID, parts[2], parts[3])
	case len(parts) == 2 && parts[1] == "attachments":
		h.handleAttachments(w, r, taskID)
	case len(parts) == 2 && parts[1] == "transactions":
		h.listTaskTransactions(w, r, taskID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.handleAction(w, r, taskID, parts[1])
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

func (h *TaskHandler) getTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- offers ---

type submitOfferRequest struct {
	Price   int64  `json:"price"`
	Message string `json:"message"`
}

func (h *TaskHandler) handleOffers(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		offers, err := h.Offers.ListOffers(r.Context(), taskID)
		if err != nil {
			h.Logger.Error("list offers", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if offers == nil {
			offers = []*models.Offer{}
		}
		writeJSON(w, http.StatusOK, offers)
	case http.MethodPost:
		acc := middleware.AccountFromCtx(r.Context())
		if acc == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var req submitOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		offer, err := h.Offers.SubmitOffer(r.Context(), taskID, acc.ID, req.Price, req.Message)
		if err != nil {
			h.writeTransitionError(w, "submit offer", err)
			return
		}
		writeJSON(w, http.StatusCreated, offer)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (h *TaskHandler) handleOfferDecision(w http.ResponseWriter, r *http.Request, taskID uuid.UUID, rawOfferID, decision string) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	offerID, err := uuid.Parse(rawOfferID)
	if err != nil {
		http.Error(w, `{"error":"invalid offer id"}`, http.StatusBadRequest)
		return
	}

	switch decision {
	case "accept":
		task, err := h.Lifecycle.AcceptOffer(r.Context(), taskID, offerID, acc.ID)
		if err != nil {
			h.writeTransitionError(w, "accept offer", err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case "reject":
		if err := h.Offers.RejectOffer(r.Context(), taskID, offerID, acc.ID); err != nil {
			h.writeTransitionError(w, "reject offer", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.OfferStatusRejected})
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

// --- lifecycle actions ---

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

var actionsByPath = map[string]services.Action{
	"start":   services.ActionStartWork,
	"submit":  services.ActionSubmitCompletion,
	"release": services.ActionRelease,
	"cancel":  services.ActionCancel,
	"dispute": services.ActionRaiseDispute,
	"resolve": services.ActionResolveDispute,
}

func (h *TaskHandler) handleAction(w http.ResponseWriter, r *http.Request, taskID uuid.UUID, verb string) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	action, ok := actionsByPath[verb]
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	opts := services.TransitionOpts{ActorRole: acc.Role}
	if action == services.ActionResolveDispute {
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		res := services.Resolution(req.Resolution)
		if res != services.ResolutionRefundPoster && res != services.ResolutionPayExecutor {
			http.Error(w, `{"error":"invalid resolution"}`, http.StatusBadRequest)
			return
		}
		opts.Resolution = res
	}

	task, err := h.Lifecycle.Transition(r.Context(), taskID, action, acc.ID, opts)
	if err != nil {
		h.writeTransitionError(w, string(action), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- attachments ---

type addAttachmentRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Stage string `json:"stage"`
}

func (h *TaskHandler) handleAttachments(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		atts, err := h.Attachments.ListByTaskID(r.Context(), taskID)
		if err != nil {
			h.Logger.Error("list attachments", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if atts == nil {
			atts = []*models.Attachment{}
		}
		writeJSON(w, http.StatusOK, atts)
	case http.MethodPost:
		acc := middleware.AccountFromCtx(r.Context())
		if acc == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		task, err := h.Tasks.GetByID(r.Context(), taskID)
		if err != nil {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		// Only the assigned executor submits proof of work.
		if task.ExecutorID == nil || *task.ExecutorID != acc.ID {
			http.Error(w, `{"error":"only the executor can attach proof"}`, http.StatusForbidden)
			return
		}
		var req addAttachmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		if req.URL == "" {
			http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
			return
		}
		if req.Stage != models.ProofStageFinal {
			req.Stage = models.ProofStageDraft
		}
		if req.Kind == "" {
			req.Kind = models.AttachmentKindDocument
		}
		att := &models.Attachment{
			ID:        uuid.New(),
			TaskID:    taskID,
			Name:      req.Name,
			URL:       req.URL,
			Kind:      req.Kind,
			Stage:     req.Stage,
			CreatedAt: time.Now(),
		}
		if err := h.Attachments.Create(r.Context(), att); err != nil {
			h.Logger.Error("create attachment", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, att)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// listTaskTransactions serves GET /api/v1/tasks/{id}/transactions. The
// ledger reveals both parties' money movements, so only the poster, the
// executor, or an admin may read it.
func (h *TaskHandler) listTaskTransactions(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	isParty := acc.ID == task.PosterID || (task.ExecutorID != nil && *task.ExecutorID == acc.ID)
	if !isParty && !acc.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	entries, err := h.Ledger.ListByTaskID(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("list task transactions", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- helpers ---

// writeTransitionError maps the service error taxonomy onto HTTP statuses.
func (h *TaskHandler) writeTransitionError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(op+" failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrProofRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTerminalState),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// splitTaskPath returns the path segments after /api/v1/tasks/.
func splitTaskPath(r *http.Request) []string {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
