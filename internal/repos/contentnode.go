package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type ContentNodeRepo interface {
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ContentNode, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ContentNode, error)
	GetByTreeID(ctx context.Context, tx *gorm.DB, treeID int64) ([]*types.ContentNode, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, updates map[string]interface{}) error
}

type contentNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentNodeRepo(db *gorm.DB, baseLog *logger.Logger) ContentNodeRepo {
	return &contentNodeRepo{db: db, log: baseLog.With("repo", "ContentNodeRepo")}
}

func (r *contentNodeRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ContentNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContentNode
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

func (r *contentNodeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ContentNode, error) {
	found, err := r.GetByIDs(ctx, tx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *contentNodeRepo) GetByTreeID(ctx context.Context, tx *gorm.DB, treeID int64) ([]*types.ContentNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContentNode
	if err := transaction.WithContext(ctx).
		Where("tree_id = ?", treeID).
		Order("lft ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentNodeRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.UpdateFieldsByIDs(ctx, tx, []uuid.UUID{id}, updates)
}

func (r *contentNodeRepo) UpdateFieldsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ContentNode{}).
		Where("id IN ?", ids).
		Updates(updates).Error
}
