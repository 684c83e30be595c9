package publishrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/services"
)

// Activities bridges the workflow to the publish and audit services.
type Activities struct {
	publish *services.PublishService
	audit   *services.AuditService
	log     *logger.Logger
}

func NewActivities(publish *services.PublishService, audit *services.AuditService, baseLog *logger.Logger) *Activities {
	return &Activities{
		publish: publish,
		audit:   audit,
		log:     baseLog.With("component", "PublishActivities"),
	}
}

func (a *Activities) Publish(ctx context.Context, channelID string) (PublishResult, error) {
	id, err := uuid.Parse(channelID)
	if err != nil {
		return PublishResult{}, fmt.Errorf("invalid channel_id %q: %w", channelID, err)
	}
	version, err := a.publish.IncrementChannelVersion(ctx, id)
	if err != nil {
		return PublishResult{}, err
	}
	if version.Version == nil {
		return PublishResult{}, fmt.Errorf("publish produced a draft version")
	}
	return PublishResult{Version: *version.Version}, nil
}

func (a *Activities) Audit(ctx context.Context, channelID string, version int) error {
	id, err := uuid.Parse(channelID)
	if err != nil {
		return fmt.Errorf("invalid channel_id %q: %w", channelID, err)
	}
	_, err = a.audit.AuditChannelVersion(ctx, id, version)
	return err
}
