package sync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/tree"
	"github.com/learningequality/studio-sub002/internal/types"
)

// channelManagedFields are owned server-side and stripped from client
// channel payloads: the publish pipeline advances version state, the tree
// store owns the root pointers.
var channelManagedFields = map[string]bool{
	"id": true, "version": true, "version_info_id": true, "published_data": true,
	"main_tree_id": true, "trash_tree_id": true, "staging_tree_id": true,
	"chef_tree_id": true, "previous_tree_id": true, "last_published": true,
}

var channelColumns = modColumns(&types.Channel{})

// ChannelHandler applies channel lifecycle changes, creating the channel's
// trees on first sight.
type ChannelHandler struct {
	store       *tree.Store
	channels    repos.ChannelRepo
	editors     repos.ChannelUserRepo
	submissions repos.CommunitySubmissionRepo
	log         *logger.Logger
}

func NewChannelHandler(store *tree.Store, channels repos.ChannelRepo, editors repos.ChannelUserRepo, submissions repos.CommunitySubmissionRepo, baseLog *logger.Logger) *ChannelHandler {
	return &ChannelHandler{
		store:       store,
		channels:    channels,
		editors:     editors,
		submissions: submissions,
		log:         baseLog.With("handler", TableChannel),
	}
}

func (h *ChannelHandler) Table() string { return TableChannel }

func (h *ChannelHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		if err := h.createOne(ctx, tx, ch); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				errs = append(errs, NewChangeError(ch, ve.Error()))
				continue
			}
			return nil, err
		}
	}
	return errs, nil
}

func (h *ChannelHandler) createOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	id, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}
	existing, err := h.channels.GetByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		updates, err := translateMods(p.Obj, channelColumns, channelManagedFields)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return h.channels.UpdateFields(ctx, tx, id, updates)
	}

	channel := &types.Channel{}
	if err := p.DecodeObjInto(channel); err != nil {
		return NewValidationError("malformed channel object: " + err.Error())
	}
	channel.ID = id
	if channel.Name == "" {
		return NewValidationError("create requires a name")
	}
	channel.Version = 0
	channel.Public = false

	mainRoot := &types.ContentNode{
		ID:        uuid.New(),
		NodeID:    uuid.New(),
		ContentID: uuid.New(),
		Kind:      types.KindTopic,
		Title:     channel.Name,
		SortOrder: 1,
	}
	if err := h.store.CreateRoot(ctx, tx, mainRoot); err != nil {
		return err
	}
	trashRoot := &types.ContentNode{
		ID:        uuid.New(),
		NodeID:    uuid.New(),
		ContentID: uuid.New(),
		Kind:      types.KindTopic,
		Title:     "Trash",
		SortOrder: 1,
	}
	if err := h.store.CreateRoot(ctx, tx, trashRoot); err != nil {
		return err
	}
	channel.MainTreeID = &mainRoot.ID
	channel.TrashTreeID = &trashRoot.ID

	if _, err := h.channels.Create(ctx, tx, []*types.Channel{channel}); err != nil {
		return err
	}
	// The creating user becomes the first editor.
	if ch.CreatedByID != nil {
		return h.editors.Add(ctx, tx, *ch.CreatedByID, id)
	}
	return nil
}

func (h *ChannelHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		p, err := ParsePayload(ch)
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		id, err := p.UUIDKey()
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		channel, err := h.channels.GetByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if channel == nil {
			errs = append(errs, NewChangeError(ch, "channel does not exist"))
			continue
		}
		if wantsPublic(p.Mods) && !channel.Public {
			hasLive, err := h.submissions.HasLiveForChannel(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			if hasLive {
				errs = append(errs, NewChangeError(ch, "channel with a live community library submission cannot be made public"))
				continue
			}
		}
		updates, terr := translateMods(p.Mods, channelColumns, channelManagedFields)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if len(updates) == 0 {
			continue
		}
		if err := h.channels.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *ChannelHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	var ids []uuid.UUID
	for _, ch := range changes {
		p, err := ParsePayload(ch)
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		id, err := p.UUIDKey()
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	if err := h.channels.SoftDeleteByIDs(ctx, tx, ids); err != nil {
		return nil, err
	}
	return errs, nil
}

func wantsPublic(mods map[string]interface{}) bool {
	v, ok := mods["public"].(bool)
	return ok && v
}
