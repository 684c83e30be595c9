package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type TaskRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.TaskRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	HasQueuedForScope(ctx context.Context, tx *gorm.DB, taskType, scopeKey string) (bool, error)
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: baseLog.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.TaskRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClaimNextRunnable picks one runnable task and marks it running. SKIP LOCKED
// keeps competing workers from claiming the same row. A task whose scope_key
// matches another running task is skipped so per-scope passes stay serialized.
func (r *taskRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.TaskRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.TaskRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
				AND (
					scope_key = ''
					OR NOT EXISTS (
						SELECT 1 FROM task_run other
						WHERE other.scope_key = task_run.scope_key
							AND other.id <> task_run.id
							AND other.status = ?
							AND (other.heartbeat_at IS NULL OR other.heartbeat_at >= ?)
					)
				)
			`, types.TaskStatusQueued,
				types.TaskStatusFailed, maxAttempts, retryCutoff,
				types.TaskStatusRunning, staleCutoff,
				types.TaskStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.TaskRun{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       types.TaskStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ? AND status = ?", id, types.TaskStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// HasQueuedForScope reports whether an identical task is already waiting,
// which lets the drain-until-empty re-enqueue avoid stacking duplicates.
func (r *taskRunRepo) HasQueuedForScope(ctx context.Context, tx *gorm.DB, taskType, scopeKey string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("task_type = ? AND scope_key = ? AND status = ?", taskType, scopeKey, types.TaskStatusQueued).
		Count(&n).Error
	return n > 0, err
}
