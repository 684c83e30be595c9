package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type SecretTokenRepo interface {
	Create(ctx context.Context, tx *gorm.DB, token *types.SecretToken) (*types.SecretToken, error)
	GetByChannelVersionID(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) ([]*types.SecretToken, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type secretTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSecretTokenRepo(db *gorm.DB, baseLog *logger.Logger) SecretTokenRepo {
	return &secretTokenRepo{db: db, log: baseLog.With("repo", "SecretTokenRepo")}
}

func (r *secretTokenRepo) Create(ctx context.Context, tx *gorm.DB, token *types.SecretToken) (*types.SecretToken, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if token == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

func (r *secretTokenRepo) GetByChannelVersionID(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) ([]*types.SecretToken, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SecretToken
	if err := transaction.WithContext(ctx).
		Where("channel_version_id = ?", versionID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *secretTokenRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.SecretToken{}).Error
}
