package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type CommunitySubmissionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sub *types.CommunityLibrarySubmission) (*types.CommunityLibrarySubmission, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CommunityLibrarySubmission, error)
	HasLiveForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type communitySubmissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommunitySubmissionRepo(db *gorm.DB, baseLog *logger.Logger) CommunitySubmissionRepo {
	return &communitySubmissionRepo{db: db, log: baseLog.With("repo", "CommunitySubmissionRepo")}
}

func (r *communitySubmissionRepo) Create(ctx context.Context, tx *gorm.DB, sub *types.CommunityLibrarySubmission) (*types.CommunityLibrarySubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sub == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *communitySubmissionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CommunityLibrarySubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var subs []*types.CommunityLibrarySubmission
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return subs[0], nil
}

func (r *communitySubmissionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.CommunityLibrarySubmission{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *communitySubmissionRepo) HasLiveForChannel(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.CommunityLibrarySubmission{}).
		Where("channel_id = ? AND status IN ?", channelID, []string{types.SubmissionStatusLive, types.SubmissionStatusApproved}).
		Count(&n).Error
	return n > 0, err
}
