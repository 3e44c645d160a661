package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

// Lifecycle actions. Every balance-mutating action derives its idempotency
// key from (taskID, action).
const (
	ActionFund             Action = "FUND"
	ActionAcceptOffer      Action = "ACCEPT_OFFER"
	ActionStartWork        Action = "START_WORK"
	ActionSubmitCompletion Action = "SUBMIT_COMPLETION"
	ActionRelease          Action = "RELEASE"
	ActionCancel           Action = "CANCEL"
	ActionRaiseDispute     Action = "RAISE_DISPUTE"
	ActionResolveDispute   Action = "RESOLVE_DISPUTE"
)

type Action string

// Dispute resolutions (admin-only).
const (
	ResolutionRefundPoster Resolution = "REFUND_POSTER"
	ResolutionPayExecutor  Resolution = "PAY_EXECUTOR"
)

type Resolution string

// AutoApproveWindow is the advisory deadline set when work is submitted for
// completion. The engine never runs timers; the scheduler acts on it later.
const AutoApproveWindow = 72 * time.Hour

// AccountDelta is a signed balance mutation for one account. All deltas of a
// transition are applied as one atomic unit or not at all.
type AccountDelta struct {
	UserID         uuid.UUID
	Available      int64
	Escrow         int64
	TasksCompleted int
}

// LedgerEntry is a ledger row template the controller persists with the
// transition's idempotency key.
type LedgerEntry struct {
	UserID       uuid.UUID
	TargetUserID *uuid.UUID
	Type         string
	Amount       int64
	Fee          *int64
	Description  string
}

// TransitionRequest carries everything the engine needs. The caller loads
// task and accounts under locks; the engine itself performs no I/O.
type TransitionRequest struct {
	Task          *models.Task
	Action        Action
	ActorID       uuid.UUID
	ActorRole     string
	Poster        *models.Account
	Executor      *models.Account // nil until assigned
	Offer         *models.Offer   // accept-offer only
	HasFinalProof bool
	Resolution    Resolution // resolve-dispute only
	Now           time.Time
}

// Transition is the computed outcome: next status, balance deltas, and
// ledger entries, applied transactionally by the controller.
type Transition struct {
	NextStatus    string
	Deltas        []AccountDelta
	Entries       []LedgerEntry
	ExecutorID    *uuid.UUID // set by accept-offer
	AutoApproveAt *time.Time // set by submit-completion
}

// EscrowEngine is the pure state-transition core. It validates guards and
// computes deltas; it never touches storage.
type EscrowEngine struct {
	Payout PayoutCalculator
}

// NewEscrowEngine returns an engine using the default commission rate.
func NewEscrowEngine() *EscrowEngine {
	return &EscrowEngine{Payout: NewPayoutCalculator()}
}

// ComputeTransition validates req against the state machine and returns the
// transition to apply. On any guard failure it returns a typed error and no
// transition.
func (e *EscrowEngine) ComputeTransition(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task == nil || req.Poster == nil {
		return nil, fmt.Errorf("%w: missing task or poster", ErrInvalidState)
	}

	if req.Action == ActionFund {
		return e.fund(req)
	}

	if models.IsTerminal(task.Status) {
		return nil, ErrTerminalState
	}

	switch req.Action {
	case ActionAcceptOffer:
		return e.acceptOffer(req)
	case ActionStartWork:
		return e.startWork(req)
	case ActionSubmitCompletion:
		return e.submitCompletion(req)
	case ActionRelease:
		return e.release(req)
	case ActionCancel:
		return e.cancel(req)
	case ActionRaiseDispute:
		return e.raiseDispute(req)
	case ActionResolveDispute:
		return e.resolveDispute(req)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidState, req.Action)
	}
}

// fund locks the budget into escrow as the task is created. The budget has
// already had its tier multiplier applied, exactly once, by the caller.
func (e *EscrowEngine) fund(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if req.ActorID != task.PosterID {
		return nil, ErrUnauthorized
	}
	if req.Poster.AvailableBalance < task.Budget {
		return nil, ErrInsufficientFunds
	}
	return &Transition{
		NextStatus: models.TaskStatusOpen,
		Deltas: []AccountDelta{
			{UserID: task.PosterID, Available: -task.Budget, Escrow: task.Budget},
		},
		Entries: []LedgerEntry{
			{
				UserID:      task.PosterID,
				Type:        models.TxTypeEscrowLock,
				Amount:      task.Budget,
				Description: "Escrow Lock: " + task.Title,
			},
		},
	}, nil
}

func (e *EscrowEngine) acceptOffer(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: accept offer requires OPEN, task is %s", ErrInvalidState, task.Status)
	}
	if req.ActorID != task.PosterID {
		return nil, ErrUnauthorized
	}
	offer := req.Offer
	if offer == nil || offer.TaskID != task.ID {
		return nil, fmt.Errorf("%w: offer does not belong to task", ErrInvalidState)
	}
	if offer.Status != models.OfferStatusPending {
		return nil, fmt.Errorf("%w: offer is %s, want PENDING", ErrInvalidState, offer.Status)
	}
	executorID := offer.UserID
	// Funds are already in escrow; assignment moves no money.
	return &Transition{
		NextStatus: models.TaskStatusAssigned,
		ExecutorID: &executorID,
	}, nil
}

func (e *EscrowEngine) startWork(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusAssigned {
		return nil, fmt.Errorf("%w: start work requires ASSIGNED, task is %s", ErrInvalidState, task.Status)
	}
	if task.ExecutorID == nil || req.ActorID != *task.ExecutorID {
		return nil, ErrUnauthorized
	}
	return &Transition{NextStatus: models.TaskStatusInProgress}, nil
}

func (e *EscrowEngine) submitCompletion(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusInProgress {
		return nil, fmt.Errorf("%w: submit requires IN_PROGRESS, task is %s", ErrInvalidState, task.Status)
	}
	if task.ExecutorID == nil || req.ActorID != *task.ExecutorID {
		return nil, ErrUnauthorized
	}
	if !req.HasFinalProof {
		return nil, ErrProofRequired
	}
	autoApprove := req.Now.Add(AutoApproveWindow)
	return &Transition{
		NextStatus:    models.TaskStatusCompleted,
		AutoApproveAt: &autoApprove,
	}, nil
}

// release is the only path that moves money out of escrow into an executor's
// available balance.
func (e *EscrowEngine) release(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: release requires COMPLETED, task is %s", ErrInvalidState, task.Status)
	}
	if req.ActorID != task.PosterID && req.ActorID != models.AutoReleaseActorID {
		return nil, ErrUnauthorized
	}
	return e.payoutTransition(req, models.TxTypePaymentRelease, "Payment: "+task.Title)
}

func (e *EscrowEngine) cancel(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusOpen && task.Status != models.TaskStatusAssigned {
		return nil, fmt.Errorf("%w: cancel requires OPEN or ASSIGNED, task is %s", ErrInvalidState, task.Status)
	}
	if req.ActorID != task.PosterID {
		return nil, ErrUnauthorized
	}
	return e.refundTransition(req, models.TxTypeRefund, "Refund: "+task.Title)
}

func (e *EscrowEngine) raiseDispute(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusInProgress && task.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: dispute requires IN_PROGRESS or COMPLETED, task is %s", ErrInvalidState, task.Status)
	}
	if req.ActorID != task.PosterID && (task.ExecutorID == nil || req.ActorID != *task.ExecutorID) {
		return nil, ErrUnauthorized
	}
	// Funds stay frozen in escrow until an admin resolves.
	return &Transition{NextStatus: models.TaskStatusDisputed}, nil
}

func (e *EscrowEngine) resolveDispute(req TransitionRequest) (*Transition, error) {
	task := req.Task
	if task.Status != models.TaskStatusDisputed {
		return nil, fmt.Errorf("%w: resolve requires DISPUTED, task is %s", ErrInvalidState, task.Status)
	}
	if req.ActorRole != models.RoleAdmin {
		return nil, ErrUnauthorized
	}
	switch req.Resolution {
	case ResolutionRefundPoster:
		// Full refund, no fee. Fee applies only on successful delivery.
		return e.refundTransition(req, models.TxTypeDisputeResolution, "Dispute Refund: "+task.Title)
	case ResolutionPayExecutor:
		return e.payoutTransition(req, models.TxTypeDisputeResolution, "Dispute Payout: "+task.Title)
	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidState, req.Resolution)
	}
}

// payoutTransition moves the full budget out of the poster's escrow and the
// net (budget minus commission) into the executor's available balance.
func (e *EscrowEngine) payoutTransition(req TransitionRequest, txType, desc string) (*Transition, error) {
	task := req.Task
	if task.ExecutorID == nil || req.Executor == nil {
		return nil, fmt.Errorf("%w: no executor on task", ErrInvalidState)
	}
	fee, net := e.Payout.Compute(task.Budget)
	executorID := *task.ExecutorID
	posterID := task.PosterID
	return &Transition{
		NextStatus: models.TaskStatusPaid,
		Deltas: []AccountDelta{
			{UserID: posterID, Escrow: -task.Budget},
			{UserID: executorID, Available: net, TasksCompleted: 1},
		},
		Entries: []LedgerEntry{
			{
				UserID:       executorID,
				TargetUserID: &posterID,
				Type:         txType,
				Amount:       net,
				Fee:          &fee,
				Description:  desc,
			},
		},
	}, nil
}

// refundTransition returns the full budget from escrow to the poster's
// available balance, no fee.
func (e *EscrowEngine) refundTransition(req TransitionRequest, txType, desc string) (*Transition, error) {
	task := req.Task
	return &Transition{
		NextStatus: models.TaskStatusCancelled,
		Deltas: []AccountDelta{
			{UserID: task.PosterID, Available: task.Budget, Escrow: -task.Budget},
		},
		Entries: []LedgerEntry{
			{
				UserID:      task.PosterID,
				Type:        txType,
				Amount:      task.Budget,
				Description: desc,
			},
		},
	}, nil
}
