package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type FileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, files []*types.File) ([]*types.File, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.File, error)
	GetByContentNodeIDs(ctx context.Context, tx *gorm.DB, nodeIDs []uuid.UUID) ([]*types.File, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
	DeleteStaleOrphans(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type fileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRepo(db *gorm.DB, baseLog *logger.Logger) FileRepo {
	return &fileRepo{db: db, log: baseLog.With("repo", "FileRepo")}
}

func (r *fileRepo) Create(ctx context.Context, tx *gorm.DB, files []*types.File) ([]*types.File, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(files) == 0 {
		return []*types.File{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *fileRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.File, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.File
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

func (r *fileRepo) GetByContentNodeIDs(ctx context.Context, tx *gorm.DB, nodeIDs []uuid.UUID) ([]*types.File, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.File
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

func (r *fileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.File{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *fileRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.File{}).Error
}

// DeleteStaleOrphans removes files detached from any node or assessment item
// that have not been touched since cutoff.
func (r *fileRepo) DeleteStaleOrphans(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("content_node_id IS NULL AND assessment_item_id IS NULL AND updated_at < ?", cutoff).
		Delete(&types.File{})
	return res.RowsAffected, res.Error
}
