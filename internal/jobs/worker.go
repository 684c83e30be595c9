package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// Worker polls for runnable task runs and executes them through the registry.
// Tasks sharing a scope_key never run concurrently; the claim query enforces
// that, so one worker pool safely serves every channel.
type Worker struct {
	db         *gorm.DB
	log        *logger.Logger
	repo       repos.TaskRunRepo
	registry   *Registry
	softBudget time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.TaskRunRepo, registry *Registry, softBudget time.Duration) *Worker {
	return &Worker{
		db:         db,
		log:        baseLog.With("component", "TaskWorker"),
		repo:       repo,
		registry:   registry,
		softBudget: softBudget,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		const maxAttempts = 5
		retryDelay := 30 * time.Second
		staleRunning := 2 * time.Minute
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task, err := w.repo.ClaimNextRunnable(ctx, nil, maxAttempts, retryDelay, staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if task == nil {
					continue
				}
				w.run(ctx, task)
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, task *types.TaskRun) {
	tc := NewContext(ctx, w.db, task, w.repo)
	h, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Warn("No handler registered for task_type", "task_type", task.TaskType, "task_id", task.ID)
		tc.Fail("dispatch", &missingHandlerError{TaskType: task.TaskType})
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, task.ID)
	started := time.Now()
	defer func() {
		stopHeartbeat()
		if w.softBudget > 0 {
			if elapsed := time.Since(started); elapsed > w.softBudget {
				w.log.Warn("Task exceeded soft time budget",
					"task_type", task.TaskType, "task_id", task.ID,
					"elapsed", elapsed, "budget", w.softBudget)
			}
		}
		if r := recover(); r != nil {
			w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.TaskType, "panic", r)
			tc.Fail("panic", &panicError{})
		}
	}()

	if err := h.Run(tc); err != nil {
		stage := task.Stage
		if stage == "" {
			stage = "run"
		}
		w.log.Warn("Task failed", "task_id", task.ID, "task_type", task.TaskType, "stage", stage, "error", err)
		tc.Fail(stage, err)
		return
	}
	if task.Status == types.TaskStatusRunning {
		tc.Succeed(task.Stage)
	}
}

func (w *Worker) heartbeat(ctx context.Context, taskID uuid.UUID) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(ctx, nil, taskID); err != nil {
				w.log.Warn("Heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

type missingHandlerError struct{ TaskType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for task_type=" + e.TaskType
}

type panicError struct{}

func (e *panicError) Error() string { return "panic: unexpected error" }
