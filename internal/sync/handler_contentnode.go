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

// structuralFields are owned by the tree store and stripped from client
// payloads before any write.
var structuralFields = map[string]bool{
	"id": true, "tree_id": true, "lft": true, "rght": true,
	"level": true, "parent_id": true, "parent": true,
}

// ContentNodeHandler applies content-tree changes through the tree store.
type ContentNodeHandler struct {
	store *tree.Store
	nodes repos.ContentNodeRepo
	log   *logger.Logger
}

func NewContentNodeHandler(store *tree.Store, nodes repos.ContentNodeRepo, baseLog *logger.Logger) *ContentNodeHandler {
	return &ContentNodeHandler{store: store, nodes: nodes, log: baseLog.With("handler", TableContentNode)}
}

func (h *ContentNodeHandler) Table() string { return TableContentNode }

// treeError classifies tree store failures: typed structural errors become
// the change's error payload, anything else is infrastructure.
func treeError(err error) (string, bool) {
	switch {
	case errors.Is(err, tree.ErrCyclicMove),
		errors.Is(err, tree.ErrInvalidPosition),
		errors.Is(err, tree.ErrTargetNotFound):
		return err.Error(), true
	default:
		return "", false
	}
}

func (h *ContentNodeHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	var errs []ChangeError
	for _, ch := range changes {
		if err := h.createOne(ctx, tx, ch); err != nil {
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

func (h *ContentNodeHandler) createOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	id, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}

	// Replayed create: the node already exists, converge by applying the
	// payload as an update.
	existing, err := h.nodes.GetByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		updates, err := nodeModUpdates(p.Obj)
		if err != nil {
			return err
		}
		updates["changed"] = true
		return h.nodes.UpdateFields(ctx, tx, id, updates)
	}

	parentID, ok := p.ObjUUID("parent")
	if !ok {
		if parentID, ok = p.ObjUUID("parent_id"); !ok {
			return NewValidationError("create requires a parent")
		}
	}

	node := &types.ContentNode{}
	if err := p.DecodeObjInto(node); err != nil {
		return NewValidationError("malformed node object: " + err.Error())
	}
	node.ID = id
	if node.Kind == "" {
		return NewValidationError("create requires a kind")
	}
	if node.NodeID == uuid.Nil {
		node.NodeID = uuid.New()
	}
	if node.ContentID == uuid.Nil {
		node.ContentID = uuid.New()
	}
	node.Changed = true
	node.Published = false
	if node.SortOrder == 0 {
		node.SortOrder = 1
	}

	return h.store.Insert(ctx, tx, node, parentID, tree.PositionLastChild)
}

func (h *ContentNodeHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
			// Update after a concurrent delete is an error; the client must
			// revert its optimistic state.
			errs = append(errs, NewChangeError(ch, "node does not exist"))
			continue
		}
		if node.FreezeAuthoringData && touchesAuthoringData(p.Mods) {
			errs = append(errs, NewChangeError(ch, "authoring data is frozen on imported copies"))
			continue
		}
		updates, terr := nodeModUpdates(p.Mods)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		updates["changed"] = true
		if err := h.nodes.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *ContentNodeHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		err = h.store.DeleteSubtree(ctx, tx, id)
		if errors.Is(err, tree.ErrTargetNotFound) {
			// Deletes are idempotent; an absent target is already satisfied.
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *ContentNodeHandler) MoveFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		err = h.store.Move(ctx, tx, id, targetID, position)
		if err != nil {
			if msg, structural := treeError(err); structural {
				errs = append(errs, NewChangeError(ch, msg))
				continue
			}
			return nil, err
		}
		if err := h.nodes.UpdateFields(ctx, tx, id, map[string]interface{}{"changed": true}); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *ContentNodeHandler) CopyFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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

func (h *ContentNodeHandler) copyOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	newRootID, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}

	// Replayed copy: keyed by the client-generated root id, so a second
	// application is a no-op.
	existing, err := h.nodes.GetByID(ctx, tx, newRootID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if p.SourceID == "" {
		return NewValidationError("copy requires a source_id")
	}
	sourceID, err := uuid.Parse(p.SourceID)
	if err != nil {
		return NewValidationError("source_id is not a uuid")
	}
	targetID, err := p.TargetID()
	if err != nil {
		return NewValidationError(err.Error())
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
	opts.TargetChannelID = ch.ChannelID

	if err := h.store.CopySubtree(ctx, tx, sourceID, targetID, position, opts); err != nil {
		return err
	}
	if len(p.Mods) > 0 {
		updates, err := nodeModUpdates(p.Mods)
		if err != nil {
			return err
		}
		return h.nodes.UpdateFields(ctx, tx, newRootID, updates)
	}
	return nil
}

var contentNodeColumns = modColumns(&types.ContentNode{})

// nodeModUpdates translates a client node payload into column updates,
// stripping structural columns and rejecting unknown keys.
func nodeModUpdates(fields map[string]interface{}) (map[string]interface{}, error) {
	return translateMods(fields, contentNodeColumns, structuralFields)
}

// authoringFields are frozen on nodes imported from other channels.
var authoringFields = map[string]bool{
	"title": true, "description": true, "license_id": true,
	"license_description": true, "copyright_holder": true,
	"author": true, "provider": true, "aggregator": true,
}

func touchesAuthoringData(mods map[string]interface{}) bool {
	for k := range mods {
		if authoringFields[k] {
			return true
		}
	}
	return false
}
