package sync

import (
	"context"

	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// EditorHandler applies channel editor membership changes. The key is the
// ordered [user_id, channel_id] pair, which must round-trip exactly as
// submitted so acknowledgments match client state.
type EditorHandler struct {
	editors  repos.ChannelUserRepo
	channels repos.ChannelRepo
	log      *logger.Logger
}

func NewEditorHandler(editors repos.ChannelUserRepo, channels repos.ChannelRepo, baseLog *logger.Logger) *EditorHandler {
	return &EditorHandler{editors: editors, channels: channels, log: baseLog.With("handler", TableEditorM2M)}
}

func (h *EditorHandler) Table() string { return TableEditorM2M }

func (h *EditorHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		channel, err := h.channels.GetByID(ctx, tx, channelID)
		if err != nil {
			return nil, err
		}
		if channel == nil {
			errs = append(errs, NewChangeError(ch, "channel does not exist"))
			continue
		}
		// Conflict-tolerant insert keeps replays idempotent.
		if err := h.editors.Add(ctx, tx, userID, channelID); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

// UpdateFromChanges has nothing to apply on a bare membership row; it exists
// to satisfy the handler contract and acknowledges the change.
func (h *EditorHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	return nil, nil
}

func (h *EditorHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		if err := h.editors.Remove(ctx, tx, userID, channelID); err != nil {
			return nil, err
		}
	}
	return errs, nil
}
