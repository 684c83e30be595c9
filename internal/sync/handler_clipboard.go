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

// ClipboardHandler applies clipboard changes: shallow copies of channel
// content into the submitting user's personal clipboard tree. Clipboard
// changes are user-scoped, so the dispatcher reaches them on the user pass.
type ClipboardHandler struct {
	store *tree.Store
	nodes repos.ContentNodeRepo
	users repos.UserRepo
	log   *logger.Logger
}

func NewClipboardHandler(store *tree.Store, nodes repos.ContentNodeRepo, users repos.UserRepo, baseLog *logger.Logger) *ClipboardHandler {
	return &ClipboardHandler{
		store: store,
		nodes: nodes,
		users: users,
		log:   baseLog.With("handler", TableClipboard),
	}
}

func (h *ClipboardHandler) Table() string { return TableClipboard }

// CreateFromChanges treats a clipboard create like a copy; clients submit
// either type for the same operation.
func (h *ClipboardHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	return h.CopyFromChanges(ctx, tx, changes)
}

func (h *ClipboardHandler) CopyFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		if err := h.copyOne(ctx, tx, ch); err != nil {
			if msg, structural := treeError(err); structural {
				errs = append(errs, NewChangeError(ch, msg))
				continue
			}
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

func (h *ClipboardHandler) copyOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	if ch.UserID == nil {
		return NewValidationError("clipboard change has no user")
	}
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	newRootID, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}

	// Replayed copy: keyed by the client-generated id.
	existing, err := h.nodes.GetByID(ctx, tx, newRootID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if p.SourceID == "" {
		return NewValidationError("clipboard copy requires a source_id")
	}
	sourceID, err := uuid.Parse(p.SourceID)
	if err != nil {
		return NewValidationError("source_id is not a uuid")
	}

	// Absent target means the clipboard root itself.
	targetID := uuid.Nil
	if p.Target != "" {
		if targetID, err = p.TargetID(); err != nil {
			return NewValidationError(err.Error())
		}
	} else {
		if targetID, err = h.ensureClipboardRoot(ctx, tx, *ch.UserID); err != nil {
			return err
		}
	}
	position := tree.Position(p.Position)
	if position == "" {
		position = tree.PositionLastChild
	}

	opts := tree.CopyOptions{NewRootID: newRootID}
	if p.SourceChannelID != "" {
		if srcChannel, perr := uuid.Parse(p.SourceChannelID); perr == nil {
			opts.SourceChannelID = &srcChannel
		}
	}
	return h.store.ShallowCopy(ctx, tx, sourceID, targetID, position, opts)
}

func (h *ClipboardHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		node, err := h.nodes.GetByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			errs = append(errs, NewChangeError(ch, "clipboard entry does not exist"))
			continue
		}
		updates, terr := nodeModUpdates(p.Mods)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if len(updates) == 0 {
			continue
		}
		if err := h.nodes.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

// DeleteFromChanges removes clipboard subtrees; deleting an absent entry is
// a success.
func (h *ClipboardHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		node, err := h.nodes.GetByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		if err := h.store.DeleteSubtree(ctx, tx, id); err != nil {
			if msg, structural := treeError(err); structural {
				errs = append(errs, NewChangeError(ch, msg))
				continue
			}
			return nil, err
		}
	}
	return errs, nil
}

func (h *ClipboardHandler) MoveFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		targetID, err := p.TargetID()
		if err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		position := tree.Position(p.Position)
		if position == "" {
			position = tree.PositionLastChild
		}
		if err := h.store.Move(ctx, tx, id, targetID, position); err != nil {
			if msg, structural := treeError(err); structural {
				errs = append(errs, NewChangeError(ch, msg))
				continue
			}
			return nil, err
		}
	}
	return errs, nil
}

// ensureClipboardRoot returns the user's clipboard tree root, creating it on
// first use.
func (h *ClipboardHandler) ensureClipboardRoot(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (uuid.UUID, error) {
	user, err := h.users.GetByID(ctx, tx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if user == nil {
		return uuid.Nil, NewValidationError("unknown user")
	}
	if user.ClipboardTreeID != nil {
		return *user.ClipboardTreeID, nil
	}
	root := &types.ContentNode{
		ID:    uuid.New(),
		Title: "Clipboard",
		Kind:  types.KindTopic,
	}
	if err := h.store.CreateRoot(ctx, tx, root); err != nil {
		return uuid.Nil, err
	}
	if err := h.users.UpdateFields(ctx, tx, userID, map[string]interface{}{"clipboard_tree_id": root.ID}); err != nil {
		return uuid.Nil, err
	}
	return root.ID, nil
}
