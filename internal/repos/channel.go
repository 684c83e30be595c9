package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type ChannelRepo interface {
	Create(ctx context.Context, tx *gorm.DB, channels []*types.Channel) ([]*types.Channel, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Channel, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Channel, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type channelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelRepo(db *gorm.DB, baseLog *logger.Logger) ChannelRepo {
	return &channelRepo{db: db, log: baseLog.With("repo", "ChannelRepo")}
}

func (r *channelRepo) Create(ctx context.Context, tx *gorm.DB, channels []*types.Channel) ([]*types.Channel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(channels) == 0 {
		return []*types.Channel{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&channels).Error; err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *channelRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Channel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Channel
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *channelRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Channel, error) {
	found, err := r.GetByIDs(ctx, tx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *channelRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Channel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *channelRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Channel{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"deleted": true, "updated_at": time.Now()}).Error
}
