package sync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

var (
	assessmentItemColumns = modColumns(&types.AssessmentItem{})
	assessmentItemStrip   = map[string]bool{"id": true, "contentnode_id": true}
)

// AssessmentItemHandler applies exercise question changes and keeps the
// owning node's changed flag honest.
type AssessmentItemHandler struct {
	items repos.AssessmentItemRepo
	nodes repos.ContentNodeRepo
	log   *logger.Logger
}

func NewAssessmentItemHandler(items repos.AssessmentItemRepo, nodes repos.ContentNodeRepo, baseLog *logger.Logger) *AssessmentItemHandler {
	return &AssessmentItemHandler{items: items, nodes: nodes, log: baseLog.With("handler", TableAssessmentItem)}
}

func (h *AssessmentItemHandler) Table() string { return TableAssessmentItem }

func (h *AssessmentItemHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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

func (h *AssessmentItemHandler) createOne(ctx context.Context, tx *gorm.DB, ch *types.Change) error {
	p, err := ParsePayload(ch)
	if err != nil {
		return NewValidationError(err.Error())
	}
	id, err := p.UUIDKey()
	if err != nil {
		return NewValidationError(err.Error())
	}
	existing, err := h.items.GetByIDs(ctx, tx, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	item := &types.AssessmentItem{}
	if err := p.DecodeObjInto(item); err != nil {
		return NewValidationError("malformed assessment item object: " + err.Error())
	}
	item.ID = id
	if item.ContentNodeID == uuid.Nil {
		return NewValidationError("assessment item requires a contentnode_id")
	}
	node, err := h.nodes.GetByID(ctx, tx, item.ContentNodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return NewValidationError("assessment item references a nonexistent node")
	}
	if node.Kind != types.KindExercise {
		return NewValidationError("assessment items attach to exercise nodes only")
	}
	if item.AssessmentID == uuid.Nil {
		item.AssessmentID = uuid.New()
	}
	if _, err := h.items.Create(ctx, tx, []*types.AssessmentItem{item}); err != nil {
		return err
	}
	return h.nodes.UpdateFields(ctx, tx, node.ID, map[string]interface{}{"changed": true})
}

func (h *AssessmentItemHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.items.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			errs = append(errs, NewChangeError(ch, "assessment item does not exist"))
			continue
		}
		updates, terr := translateMods(p.Mods, assessmentItemColumns, assessmentItemStrip)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if err := h.items.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
		if err := h.nodes.UpdateFields(ctx, tx, found[0].ContentNodeID, map[string]interface{}{"changed": true}); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *AssessmentItemHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.items.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}
		if err := h.items.DeleteByIDs(ctx, tx, []uuid.UUID{id}); err != nil {
			return nil, err
		}
		if err := h.nodes.UpdateFields(ctx, tx, found[0].ContentNodeID, map[string]interface{}{"changed": true}); err != nil {
			return nil, err
		}
	}
	return errs, nil
}
