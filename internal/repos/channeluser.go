package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

type ChannelUserRepo interface {
	Add(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) error
	Remove(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) error
	IsEditor(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) (bool, error)
	ListChannelIDsForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error)
}

type channelUserRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelUserRepo(db *gorm.DB, baseLog *logger.Logger) ChannelUserRepo {
	return &channelUserRepo{db: db, log: baseLog.With("repo", "ChannelUserRepo")}
}

// Add is idempotent: re-adding an existing membership is a no-op, which is
// what replayed composite-key creates rely on.
func (r *channelUserRepo) Add(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	row := &types.ChannelUser{UserID: userID, ChannelID: channelID}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
}

func (r *channelUserRepo) Remove(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		Delete(&types.ChannelUser{}).Error
}

func (r *channelUserRepo) IsEditor(ctx context.Context, tx *gorm.DB, userID, channelID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.ChannelUser{}).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		Count(&n).Error
	return n > 0, err
}

func (r *channelUserRepo) ListChannelIDsForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.ChannelUser{}).
		Where("user_id = ?", userID).
		Pluck("channel_id", &ids).Error
	return ids, err
}
