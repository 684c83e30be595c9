package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

const (
	TaskTypeDispatchChannel = "sync:dispatch:channel"
	TaskTypeDispatchUser    = "sync:dispatch:user"
	TaskTypePublishChannel  = "publish:channel"
	TaskTypeAuditVersion    = "audit:channel_version"
	TaskTypeGC              = "maintenance:gc"
	TaskTypeSearchVectors   = "maintenance:search_vectors"
	TaskTypeBackfill        = "maintenance:backfill_versions"
)

func channelScopeKey(channelID uuid.UUID) string { return "channel:" + channelID.String() }
func userScopeKey(userID uuid.UUID) string       { return "user:" + userID.String() }

// enqueueScoped queues one task unless an identical one already waits on the
// same scope, so drain re-enqueues never stack duplicates.
func enqueueScoped(ctx context.Context, tx *gorm.DB, repo repos.TaskRunRepo, taskType, scopeKey string, payload map[string]interface{}) error {
	queued, err := repo.HasQueuedForScope(ctx, tx, taskType, scopeKey)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = repo.Create(ctx, tx, []*types.TaskRun{{
		ID:       uuid.New(),
		TaskType: taskType,
		ScopeKey: scopeKey,
		Payload:  raw,
	}})
	return err
}

// EnqueueChannelDispatch queues a dispatch pass over a channel's pending
// changes.
func EnqueueChannelDispatch(ctx context.Context, tx *gorm.DB, repo repos.TaskRunRepo, channelID uuid.UUID) error {
	return enqueueScoped(ctx, tx, repo, TaskTypeDispatchChannel, channelScopeKey(channelID),
		map[string]interface{}{"channel_id": channelID.String()})
}

// EnqueueUserDispatch queues a dispatch pass over a user's channel-less
// pending changes.
func EnqueueUserDispatch(ctx context.Context, tx *gorm.DB, repo repos.TaskRunRepo, userID uuid.UUID) error {
	return enqueueScoped(ctx, tx, repo, TaskTypeDispatchUser, userScopeKey(userID),
		map[string]interface{}{"user_id": userID.String()})
}

// EnqueuePublish queues a publish of the channel's main tree. The channel
// scope key serializes it against the channel's dispatch passes.
func EnqueuePublish(ctx context.Context, tx *gorm.DB, repo repos.TaskRunRepo, channelID uuid.UUID) error {
	return enqueueScoped(ctx, tx, repo, TaskTypePublishChannel, channelScopeKey(channelID),
		map[string]interface{}{"channel_id": channelID.String()})
}

// EnqueueAudit queues the post-publish license audit for one version.
func EnqueueAudit(ctx context.Context, tx *gorm.DB, repo repos.TaskRunRepo, channelID uuid.UUID, version int) error {
	return enqueueScoped(ctx, tx, repo, TaskTypeAuditVersion, channelScopeKey(channelID),
		map[string]interface{}{"channel_id": channelID.String(), "version": version})
}
