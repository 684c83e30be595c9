package sync

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

// BookmarkHandler applies channel star/unstar changes, keyed by the ordered
// [user_id, channel_id] pair.
type BookmarkHandler struct {
	log *logger.Logger
}

func NewBookmarkHandler(baseLog *logger.Logger) *BookmarkHandler {
	return &BookmarkHandler{log: baseLog.With("handler", TableBookmark)}
}

func (h *BookmarkHandler) Table() string { return TableBookmark }

func (h *BookmarkHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		p, err := ParsePayload(ch)
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		userID, channelID, err := p.CompositeKey()
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		bookmark := &types.Bookmark{UserID: userID, ChannelID: channelID}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(bookmark).Error; err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *BookmarkHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	return nil, nil
}

func (h *BookmarkHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		p, err := ParsePayload(ch)
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		userID, channelID, err := p.CompositeKey()
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		if err := tx.WithContext(ctx).
			Where("user_id = ? AND channel_id = ?", userID, channelID).
			Delete(&types.Bookmark{}).Error; err != nil {
			return nil, err
		}
	}
	return errs, nil
}
