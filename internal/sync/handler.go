package sync

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/types"
)

// ChangeError is one per-change failure reported by a handler. The change is
// marked errored; siblings in the same batch are unaffected.
type ChangeError struct {
	ServerRev int64         `json:"server_rev"`
	Change    *types.Change `json:"change"`
	Errors    []string      `json:"errors"`
}

func NewChangeError(ch *types.Change, messages ...string) ChangeError {
	return ChangeError{ServerRev: ch.ServerRev, Change: ch, Errors: messages}
}

// Handler applies one table's change groups. Each method receives the full
// (table, type) group and returns per-change errors; an error return means an
// infrastructure failure, and the whole group is left pending for retry.
type Handler interface {
	Table() string
	CreateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error)
	UpdateFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error)
	DeleteFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error)
}

// TreeHandler extends Handler for tree-structured tables.
type TreeHandler interface {
	Handler
	MoveFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error)
	CopyFromChanges(ctx context.Context, tx *gorm.DB, changes []*types.Change) ([]ChangeError, error)
}

// Group is one dispatch unit: all changes of one type for one table, in
// server_rev order.
type Group struct {
	Table      string
	ChangeType int
	Changes    []*types.Change
}

// GroupChanges splits an ordered pending batch into dispatch groups: tables
// in fixed priority order, change types in fixed priority order within each
// table, server_rev order preserved inside every group.
func GroupChanges(changes []*types.Change) []Group {
	type key struct {
		table      string
		changeType int
	}
	byKey := map[key][]*types.Change{}
	var keys []key
	for _, ch := range changes {
		k := key{ch.TableName_, ch.ChangeType}
		if _, seen := byKey[k]; !seen {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], ch)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ti, tj := tableRank(keys[i].table), tableRank(keys[j].table)
		if ti != tj {
			return ti < tj
		}
		return typeRank(keys[i].changeType) < typeRank(keys[j].changeType)
	})
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Table: k.table, ChangeType: k.changeType, Changes: byKey[k]})
	}
	return groups
}
