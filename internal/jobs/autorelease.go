// Package jobs holds the background workers run through river.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

type AutoReleaseJobArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (AutoReleaseJobArgs) Kind() string { return "auto_release" }

// Lifecycle is the slice of the lifecycle controller the worker needs.
type Lifecycle interface {
	Transition(ctx context.Context, taskID uuid.UUID, action services.Action, actorID uuid.UUID, opts services.TransitionOpts) (*models.Task, error)
}

// AutoReleaseWorker releases escrow to the executor when the approval window
// lapses with no poster action. It runs as the system actor, scheduled at
// the task's auto-approve time when completion is submitted.
type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseJobArgs]
	lifecycle Lifecycle
	log       *slog.Logger
}

func NewAutoReleaseWorker(lifecycle Lifecycle, log *slog.Logger) *AutoReleaseWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AutoReleaseWorker{lifecycle: lifecycle, log: log}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, job *river.Job[AutoReleaseJobArgs]) error {
	taskID := job.Args.TaskID
	_, err := w.lifecycle.Transition(ctx, taskID, services.ActionRelease, models.AutoReleaseActorID, services.TransitionOpts{})
	switch {
	case err == nil:
		w.log.Info("auto-release completed", "task_id", taskID)
		return nil
	case errors.Is(err, services.ErrTerminalState), errors.Is(err, services.ErrInvalidState), errors.Is(err, pgx.ErrNoRows):
		// The poster released, cancelled or disputed before the window
		// lapsed. Nothing left to do.
		w.log.Info("auto-release skipped", "task_id", taskID, "reason", err)
		return nil
	default:
		w.log.Error("auto-release failed", "task_id", taskID, "error", err)
		return err
	}
}

// Timeout bounds each attempt; river retries on error.
func (w *AutoReleaseWorker) Timeout(job *river.Job[AutoReleaseJobArgs]) time.Duration {
	return 30 * time.Second
}
