package sync

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

var (
	fileColumns = modColumns(&types.File{})
	fileStrip   = map[string]bool{"id": true, "contentnode_id": true, "assessment_item_id": true}
)

// FileHandler applies file attachment changes. Attaching a file can complete
// its node's requirements, in which case a server-computed follow-up change
// is emitted so connected clients see the node flip to complete.
type FileHandler struct {
	files   repos.FileRepo
	nodes   repos.ContentNodeRepo
	changes repos.ChangeRepo
	log     *logger.Logger
}

func NewFileHandler(files repos.FileRepo, nodes repos.ContentNodeRepo, changes repos.ChangeRepo, baseLog *logger.Logger) *FileHandler {
	return &FileHandler{files: files, nodes: nodes, changes: changes, log: baseLog.With("handler", TableFile)}
}

func (h *FileHandler) Table() string { return TableFile }

func (h *FileHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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

func (h *FileHandler) createOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	id, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}
	existing, err := h.files.GetByIDs(ctx, tx, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	file := &types.File{}
	if err := p.DecodeObjInto(file); err != nil {
		return NewValidationError("malformed file object: " + err.Error())
	}
	file.ID = id
	if file.Checksum == "" {
		return NewValidationError("create requires a checksum")
	}
	if file.ContentNodeID == nil && file.AssessmentItemID == nil {
		return NewValidationError("file must attach to a node or an assessment item")
	}
	if file.ContentNodeID != nil {
		node, err := h.nodes.GetByID(ctx, tx, *file.ContentNodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return NewValidationError("file references a nonexistent node")
		}
		if _, err := h.files.Create(ctx, tx, []*types.File{file}); err != nil {
			return err
		}
		return h.refreshCompleteness(ctx, tx, node, ch)
	}
	_, err = h.files.Create(ctx, tx, []*types.File{file})
	return err
}

// refreshCompleteness recomputes the node's complete flag after an
// attachment change and emits a follow-up change when it flips.
func (h *FileHandler) refreshCompleteness(ctx context.Context, tx *gorm.DB, node *types.ContentNode, origin *types.Change) error {
	files, err := h.files.GetByContentNodeIDs(ctx, tx, []uuid.UUID{node.ID})
	if err != nil {
		return err
	}
	complete := len(files) > 0
	if node.IsTopic() {
		complete = true
	}
	if complete == node.Complete {
		return nil
	}
	updates := map[string]interface{}{"complete": complete, "changed": true}
	if err := h.nodes.UpdateFields(ctx, tx, node.ID, updates); err != nil {
		return err
	}
	key, _ := json.Marshal(node.ID.String())
	followUp, err := NewChange(TableContentNode, types.ChangeTypeUpdated, Payload{
		Key:  key,
		Mods: map[string]interface{}{"complete": complete},
	}, origin.ChannelID, origin.UserID)
	if err != nil {
		return err
	}
	_, err = h.changes.Create(ctx, tx, []*types.Change{followUp})
	return err
}

func (h *FileHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.files.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			errs = append(errs, NewChangeError(ch, "file does not exist"))
			continue
		}
		updates, terr := translateMods(p.Mods, fileColumns, fileStrip)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if err := h.files.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *FileHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.files.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}
		file := found[0]
		if err := h.files.DeleteByIDs(ctx, tx, []uuid.UUID{id}); err != nil {
			return nil, err
		}
		if file.ContentNodeID != nil {
			node, err := h.nodes.GetByID(ctx, tx, *file.ContentNodeID)
			if err != nil {
				return nil, err
			}
			if node != nil {
				if err := h.refreshCompleteness(ctx, tx, node, ch); err != nil {
					return nil, err
				}
			}
		}
	}
	return errs, nil
}
