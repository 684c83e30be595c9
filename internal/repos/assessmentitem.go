package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type AssessmentItemRepo interface {
	Create(ctx context.Context, tx *gorm.DB, items []*types.AssessmentItem) ([]*types.AssessmentItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.AssessmentItem, error)
	GetByContentNodeIDs(ctx context.Context, tx *gorm.DB, nodeIDs []uuid.UUID) ([]*types.AssessmentItem, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type assessmentItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssessmentItemRepo(db *gorm.DB, baseLog *logger.Logger) AssessmentItemRepo {
	return &assessmentItemRepo{db: db, log: baseLog.With("repo", "AssessmentItemRepo")}
}

func (r *assessmentItemRepo) Create(ctx context.Context, tx *gorm.DB, items []*types.AssessmentItem) ([]*types.AssessmentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return []*types.AssessmentItem{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *assessmentItemRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.AssessmentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AssessmentItem
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

func (r *assessmentItemRepo) GetByContentNodeIDs(ctx context.Context, tx *gorm.DB, nodeIDs []uuid.UUID) ([]*types.AssessmentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AssessmentItem
	if len(nodeIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("content_node_id IN ?", nodeIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assessmentItemRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.AssessmentItem{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *assessmentItemRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.AssessmentItem{}).Error
}
