package sync

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/types"
)

// RowHandler applies changes for simple uuid-keyed tables with no structural
// or business-rule coupling: create is an idempotent upsert, update requires
// the row to exist, delete tolerates absence.
type RowHandler struct {
	table     string
	newModel  func(id uuid.UUID) interface{}
	columns   map[string]string
	protected map[string]bool
	log       *logger.Logger
}

func newRowHandler(table string, newModel func(id uuid.UUID) interface{}, protected []string, baseLog *logger.Logger) *RowHandler {
	guard := map[string]bool{"id": true}
	for _, f := range protected {
		guard[f] = true
	}
	return &RowHandler{
		table:     table,
		newModel:  newModel,
		columns:   modColumns(newModel(uuid.Nil)),
		protected: guard,
		log:       baseLog.With("handler", table),
	}
}

func NewInvitationHandler(baseLog *logger.Logger) *RowHandler {
	return newRowHandler(TableInvitation, func(id uuid.UUID) interface{} {
		return &types.Invitation{ID: id}
	}, []string{"channel_id"}, baseLog)
}

func NewChannelSetHandler(baseLog *logger.Logger) *RowHandler {
	return newRowHandler(TableChannelSet, func(id uuid.UUID) interface{} {
		return &types.ChannelSet{ID: id}
	}, nil, baseLog)
}

func NewSavedSearchHandler(baseLog *logger.Logger) *RowHandler {
	return newRowHandler(TableSavedSearch, func(id uuid.UUID) interface{} {
		return &types.SavedSearch{ID: id}
	}, []string{"saved_by_id"}, baseLog)
}

func NewCaptionHandler(baseLog *logger.Logger) *RowHandler {
	return newRowHandler(TableCaption, func(id uuid.UUID) interface{} {
		return &types.CaptionFile{ID: id}
	}, []string{"file_id"}, baseLog)
}

func (h *RowHandler) Table() string { return h.table }

func (h *RowHandler) exists(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(h.newModel(uuid.Nil)).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (h *RowHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.exists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if found {
			updates, terr := translateMods(p.Obj, h.columns, h.protected)
			if terr != nil {
				errs = append(errs, NewChangeError(ch, terr.Error()))
				continue
			}
			if len(updates) == 0 {
				continue
			}
			if err := tx.WithContext(ctx).Model(h.newModel(uuid.Nil)).
				Where("id = ?", id).Updates(updates).Error; err != nil {
				return nil, err
			}
			continue
		}
		model := h.newModel(id)
		if err := p.DecodeObjInto(model); err != nil {
			errs = append(errs, NewChangeError(ch, "malformed object: "+err.Error()))
			continue
		}
		if err := forceID(model, id); err != nil {
			errs = append(errs, NewChangeError(ch, err.Error()))
			continue
		}
		if err := tx.WithContext(ctx).Create(model).Error; err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *RowHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		found, err := h.exists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			errs = append(errs, NewChangeError(ch, h.table+" row does not exist"))
			continue
		}
		updates, terr := translateMods(p.Mods, h.columns, h.protected)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if len(updates) == 0 {
			continue
		}
		if err := tx.WithContext(ctx).Model(h.newModel(uuid.Nil)).
			Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *RowHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		if err := tx.WithContext(ctx).Where("id = ?", id).Delete(h.newModel(uuid.Nil)).Error; err != nil {
			return nil, err
		}
	}
	return errs, nil
}

// forceID restamps the key on the decoded model, so a payload carrying a
// mismatched id cannot redirect the write.
func forceID(model interface{}, id uuid.UUID) error {
	switch m := model.(type) {
	case *types.Invitation:
		m.ID = id
	case *types.ChannelSet:
		m.ID = id
	case *types.SavedSearch:
		m.ID = id
	case *types.CaptionFile:
		m.ID = id
	default:
		return NewValidationError("unsupported row model")
	}
	return nil
}
