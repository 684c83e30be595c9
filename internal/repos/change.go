package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type ChangeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]*types.Change, error)
	GetPendingForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID, limit int) ([]*types.Change, error)
	GetPendingForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Change, error)
	CountPendingForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) (int64, error)
	MarkApplied(ctx context.Context, tx *gorm.DB, serverRevs []int64) error
	MarkErrored(ctx context.Context, tx *gorm.DB, serverRev int64, detail string) error
	DeleteTerminalOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type changeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChangeRepo(db *gorm.DB, baseLog *logger.Logger) ChangeRepo {
	return &changeRepo{db: db, log: baseLog.With("repo", "ChangeRepo")}
}

// Create appends changes to the log. server_rev is assigned by the sequence at
// insert time, which gives the strictly increasing replay order.
func (r *changeRepo) Create(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]*types.Change, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(changes) == 0 {
		return []*types.Change{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *changeRepo) GetPendingForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID, limit int) ([]*types.Change, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Change
	q := transaction.WithContext(ctx).
		Where("channel_id = ? AND applied = false AND errored = false", channelID).
		Order("server_rev ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *changeRepo) GetPendingForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Change, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Change
	q := transaction.WithContext(ctx).
		Where("user_id = ? AND channel_id IS NULL AND applied = false AND errored = false", userID).
		Order("server_rev ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *changeRepo) CountPendingForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.Change{}).
		Where("channel_id = ? AND applied = false AND errored = false", channelID).
		Count(&n).Error
	return n, err
}

func (r *changeRepo) MarkApplied(ctx context.Context, tx *gorm.DB, serverRevs []int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(serverRevs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Model(&types.Change{}).
		Where("server_rev IN ? AND errored = false", serverRevs).
		Update("applied", true).Error
}

func (r *changeRepo) MarkErrored(ctx context.Context, tx *gorm.DB, serverRev int64, detail string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Change{}).
		Where("server_rev = ? AND applied = false", serverRev).
		Updates(map[string]interface{}{"errored": true, "error": detail}).Error
}

func (r *changeRepo) DeleteTerminalOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("(applied = true OR errored = true) AND created_at < ?", cutoff).
		Delete(&types.Change{})
	return res.RowsAffected, res.Error
}
