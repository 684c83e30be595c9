package sync

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// SubmittedChange is the bookkeeping view of one client change dict. The full
// raw dict becomes the persisted kwargs, so handler-specific fields pass
// through untouched.
type SubmittedChange struct {
	Rev       *int64          `json:"rev"`
	Table     string          `json:"table"`
	Type      int             `json:"type"`
	ChannelID *uuid.UUID      `json:"channel_id"`
	Key       json.RawMessage `json:"key"`
}

// IntakeResult is the outcome of one submission batch. Persisted and
// PersistedRevs are parallel; Disallowed carries the rejected submissions
// back unmodified.
type IntakeResult struct {
	Persisted     []*types.Change
	PersistedRevs []*int64
	Disallowed    []json.RawMessage
}

// ChannelRevs groups the persisted server revs by channel scope.
func (r *IntakeResult) ChannelRevs() map[uuid.UUID][]int64 {
	out := map[uuid.UUID][]int64{}
	for _, change := range r.Persisted {
		if change.ChannelID != nil {
			out[*change.ChannelID] = append(out[*change.ChannelID], change.ServerRev)
		}
	}
	return out
}

// HasUserScoped reports whether any persisted change lives in the user's own
// scope rather than a channel's.
func (r *IntakeResult) HasUserScoped() bool {
	for _, change := range r.Persisted {
		if change.ChannelID == nil {
			return true
		}
	}
	return false
}

// Intake is the single admission point for client-submitted changes: it
// splits a batch into allowed and disallowed and appends the allowed part to
// the change log. Disallowed submissions never reach the log.
type Intake struct {
	changes  repos.ChangeRepo
	channels repos.ChannelRepo
	editors  repos.ChannelUserRepo
	log      *logger.Logger
}

func NewIntake(changes repos.ChangeRepo, channels repos.ChannelRepo, editors repos.ChannelUserRepo, baseLog *logger.Logger) *Intake {
	return &Intake{
		changes:  changes,
		channels: channels,
		editors:  editors,
		log:      baseLog.With("component", "ChangeIntake"),
	}
}

// Submit admits one batch on behalf of userID. The returned error is
// infrastructural; per-change rejections land in Disallowed.
func (i *Intake) Submit(ctx context.Context, userID uuid.UUID, rawChanges []json.RawMessage) (*IntakeResult, error) {
	result := &IntakeResult{}
	var (
		allowed     []*types.Change
		allowedRevs []*int64
	)
	// Channels created earlier in the same batch are editable by their creator.
	createdInBatch := map[uuid.UUID]bool{}

	for _, raw := range rawChanges {
		var sub SubmittedChange
		if err := json.Unmarshal(raw, &sub); err != nil || !KnownTable(sub.Table) {
			result.Disallowed = append(result.Disallowed, raw)
			continue
		}
		ok, err := i.permitted(ctx, userID, &sub, createdInBatch)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.Disallowed = append(result.Disallowed, raw)
			continue
		}
		if sub.Table == TableChannel && sub.Type == types.ChangeTypeCreated {
			if id, perr := uuid.Parse(trimJSONQuotes(sub.Key)); perr == nil {
				createdInBatch[id] = true
			}
		}
		kwargs := make([]byte, len(raw))
		copy(kwargs, raw)
		allowed = append(allowed, &types.Change{
			ClientRev:   sub.Rev,
			TableName_:  sub.Table,
			ChangeType:  sub.Type,
			Kwargs:      kwargs,
			ChannelID:   sub.ChannelID,
			UserID:      &userID,
			CreatedByID: &userID,
		})
		allowedRevs = append(allowedRevs, sub.Rev)
	}

	if len(result.Disallowed) > 0 {
		i.log.Debug("Rejected changes in batch", "user_id", userID, "disallowed", len(result.Disallowed))
	}
	if len(allowed) > 0 {
		persisted, err := i.changes.Create(ctx, nil, allowed)
		if err != nil {
			return nil, err
		}
		result.Persisted = persisted
		result.PersistedRevs = allowedRevs
	}
	return result, nil
}

// permitted decides one submission. Channel-less changes stay in the user's
// own scope; channel changes require editor rights, with a carve-out for
// channels the client is creating right now.
func (i *Intake) permitted(ctx context.Context, userID uuid.UUID, sub *SubmittedChange, createdInBatch map[uuid.UUID]bool) (bool, error) {
	if sub.ChannelID == nil {
		return true, nil
	}
	channelID := *sub.ChannelID
	if createdInBatch[channelID] {
		return true, nil
	}
	channel, err := i.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return false, err
	}
	if channel == nil {
		// Channel creation for an id that has no row yet.
		return sub.Table == TableChannel && sub.Type == types.ChangeTypeCreated, nil
	}
	if channel.Deleted {
		return false, nil
	}
	return i.editors.IsEditor(ctx, nil, userID, channelID)
}

func trimJSONQuotes(raw []byte) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
