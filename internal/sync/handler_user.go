package sync

import (
	"context"

	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// userManagedFields never come from sync payloads.
var userManagedFields = map[string]bool{
	"id": true, "email": true, "password": true,
	"is_admin": true, "clipboard_tree_id": true,
}

var userColumns = modColumns(&types.User{})

// UserHandler applies profile changes. Accounts are created through the auth
// surface, not the change log, so creates acknowledge without mutating and
// deletes deactivate rather than remove.
type UserHandler struct {
	users repos.UserRepo
	log   *logger.Logger
}

func NewUserHandler(users repos.UserRepo, baseLog *logger.Logger) *UserHandler {
	return &UserHandler{users: users, log: baseLog.With("handler", TableUser)}
}

func (h *UserHandler) Table() string { return TableUser }

func (h *UserHandler) CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
	return nil, nil
}

func (h *UserHandler) UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		user, err := h.users.GetByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			errs = append(errs, NewChangeError(ch, "user does not exist"))
			continue
		}
		updates, terr := translateMods(p.Mods, userColumns, userManagedFields)
		if terr != nil {
			errs = append(errs, NewChangeError(ch, terr.Error()))
			continue
		}
		if len(updates) == 0 {
			continue
		}
		if err := h.users.UpdateFields(ctx, tx, id, updates); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (h *UserHandler) DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error) {
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
		if err := h.users.UpdateFields(ctx, tx, id, map[string]interface{}{"is_active": false}); err != nil {
			return nil, err
		}
	}
	return errs, nil
}
