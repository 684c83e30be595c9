package sync

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// batchLimit caps how many pending changes one dispatch pass loads; the
// drain-until-empty requeue picks up the remainder.
const batchLimit = 500

// Result summarizes one dispatch pass. Drained reports whether the scope had
// no pending changes when the pass began; a false value tells the caller to
// re-enqueue the same scope.
type Result struct {
	Processed int
	Applied   int
	Errored   int
	Drained   bool
	Errors    []ChangeError
}

// Dispatcher replays pending changes in server_rev order. One pass over one
// scope runs under an advisory lock, so per-scope application is serialized
// across workers.
type Dispatcher struct {
	db       *gorm.DB
	changes  repos.ChangeRepo
	handlers map[string]Handler
	log      *logger.Logger
}

func NewDispatcher(db *gorm.DB, changes repos.ChangeRepo, handlers []Handler, baseLog *logger.Logger) *Dispatcher {
	byTable := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		byTable[h.Table()] = h
	}
	return &Dispatcher{
		db:       db,
		changes:  changes,
		handlers: byTable,
		log:      baseLog.With("component", "Dispatcher"),
	}
}

func scopeLockKey(namespace string, id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}

// DispatchChannel applies all pending changes scoped to one channel.
func (d *Dispatcher) DispatchChannel(ctx context.Context, channelID uuid.UUID) (*Result, error) {
	return d.dispatch(ctx, "dispatch:channel", channelID, func(tx *gorm.DB) ([]*types.Change, error) {
		return d.changes.GetPendingForChannel(ctx, tx, channelID, batchLimit)
	})
}

// DispatchUser applies pending channel-less changes for one user.
func (d *Dispatcher) DispatchUser(ctx context.Context, userID uuid.UUID) (*Result, error) {
	return d.dispatch(ctx, "dispatch:user", userID, func(tx *gorm.DB) ([]*types.Change, error) {
		return d.changes.GetPendingForUser(ctx, tx, userID, batchLimit)
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, lockNS string, scopeID uuid.UUID, load func(tx *gorm.DB) ([]*types.Change, error)) (*Result, error) {
	result := &Result{}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serializes concurrent passes over the same scope; released at commit.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", scopeLockKey(lockNS, scopeID)).Error; err != nil {
			return err
		}
		pending, err := load(tx)
		if err != nil {
			return err
		}
		result.Processed = len(pending)
		if len(pending) == 0 {
			result.Drained = true
			return nil
		}
		for _, group := range GroupChanges(pending) {
			if err := d.applyGroup(ctx, tx, group, result); err != nil {
				// Infrastructure failure: the group's changes stay pending and
				// the pass stops so the retry sees a clean ordering.
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) applyGroup(ctx context.Context, tx *gorm.DB, group Group, result *Result) error {
	changeErrs, err := d.invokeHandler(ctx, tx, group)
	if err != nil {
		return fmt.Errorf("dispatch group %s/%d: %w", group.Table, group.ChangeType, err)
	}

	errored := map[int64]ChangeError{}
	for _, ce := range changeErrs {
		errored[ce.ServerRev] = ce
	}
	var appliedRevs []int64
	for _, ch := range group.Changes {
		if ce, bad := errored[ch.ServerRev]; bad {
			detail := "change failed"
			if len(ce.Errors) > 0 {
				detail = ce.Errors[0]
			}
			if err := d.changes.MarkErrored(ctx, tx, ch.ServerRev, detail); err != nil {
				return err
			}
			result.Errored++
			result.Errors = append(result.Errors, ce)
			continue
		}
		appliedRevs = append(appliedRevs, ch.ServerRev)
	}
	if err := d.changes.MarkApplied(ctx, tx, appliedRevs); err != nil {
		return err
	}
	result.Applied += len(appliedRevs)
	return nil
}

func (d *Dispatcher) invokeHandler(ctx context.Context, tx *gorm.DB, group Group) ([]ChangeError, error) {
	// Server-emitted event types carry no mutation; they exist for client
	// consumption and are acknowledged as applied.
	switch group.ChangeType {
	case types.ChangeTypePublished, types.ChangeTypeSynced, types.ChangeTypeDeployed:
		return nil, nil
	}

	handler, ok := d.handlers[group.Table]
	if !ok {
		return allErrored(group.Changes, fmt.Sprintf("unknown table %q", group.Table)), nil
	}
	switch group.ChangeType {
	case types.ChangeTypeCreated:
		return handler.CreateFromChanges(ctx, tx, group.Changes)
	case types.ChangeTypeUpdated:
		return handler.UpdateFromChanges(ctx, tx, group.Changes)
	case types.ChangeTypeDeleted:
		return handler.DeleteFromChanges(ctx, tx, group.Changes)
	case types.ChangeTypeMoved:
		if th, isTree := handler.(TreeHandler); isTree {
			return th.MoveFromChanges(ctx, tx, group.Changes)
		}
		return allErrored(group.Changes, fmt.Sprintf("table %q does not support moves", group.Table)), nil
	case types.ChangeTypeCopied:
		if th, isTree := handler.(TreeHandler); isTree {
			return th.CopyFromChanges(ctx, tx, group.Changes)
		}
		return allErrored(group.Changes, fmt.Sprintf("table %q does not support copies", group.Table)), nil
	default:
		return allErrored(group.Changes, fmt.Sprintf("unknown change type %d", group.ChangeType)), nil
	}
}

func allErrored(changes []*types.Change, message string) []ChangeError {
	out := make([]ChangeError, 0, len(changes))
	for _, ch := range changes {
		out = append(out, NewChangeError(ch, message))
	}
	return out
}
