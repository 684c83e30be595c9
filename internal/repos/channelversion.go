package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type ChannelVersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, version *types.ChannelVersion) (*types.ChannelVersion, error)
	GetByChannelAndVersion(ctx context.Context, tx *gorm.DB, channelID uuid.UUID, version int) (*types.ChannelVersion, error)
	ListByChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) ([]*types.ChannelVersion, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ReplaceSpecialPermissions(ctx context.Context, tx *gorm.DB, id uuid.UUID, audits []*types.AuditedSpecialPermissionsLicense) error
}

type channelVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelVersionRepo(db *gorm.DB, baseLog *logger.Logger) ChannelVersionRepo {
	return &channelVersionRepo{db: db, log: baseLog.With("repo", "ChannelVersionRepo")}
}

func (r *channelVersionRepo) Create(ctx context.Context, tx *gorm.DB, version *types.ChannelVersion) (*types.ChannelVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if version == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (r *channelVersionRepo) GetByChannelAndVersion(ctx context.Context, tx *gorm.DB, channelID uuid.UUID, version int) (*types.ChannelVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.ChannelVersion
	err := transaction.WithContext(ctx).
		Preload("SpecialPermissions").
		Where("channel_id = ? AND version = ?", channelID, version).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *channelVersionRepo) ListByChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) ([]*types.ChannelVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChannelVersion
	if err := transaction.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("version ASC NULLS LAST").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *channelVersionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ChannelVersion{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *channelVersionRepo) ReplaceSpecialPermissions(ctx context.Context, tx *gorm.DB, id uuid.UUID, audits []*types.AuditedSpecialPermissionsLicense) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	version := types.ChannelVersion{ID: id}
	return transaction.WithContext(ctx).
		Model(&version).
		Association("SpecialPermissions").
		Replace(audits)
}
