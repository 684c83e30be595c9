package jobs

import (
	"fmt"
	"time"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/services"
	"github.com/learningequality/studio-sub002/internal/sync"
)

// DispatchChannelHandler runs one bounded dispatch pass for a channel and
// re-enqueues itself until the scope drains.
type DispatchChannelHandler struct {
	dispatcher *sync.Dispatcher
	tasks      repos.TaskRunRepo
}

func NewDispatchChannelHandler(dispatcher *sync.Dispatcher, tasks repos.TaskRunRepo) *DispatchChannelHandler {
	return &DispatchChannelHandler{dispatcher: dispatcher, tasks: tasks}
}

func (h *DispatchChannelHandler) Type() string { return TaskTypeDispatchChannel }

func (h *DispatchChannelHandler) Run(tc *Context) error {
	channelID, ok := tc.PayloadUUID("channel_id")
	if !ok {
		return fmt.Errorf("missing channel_id")
	}
	tc.Progress("dispatch")
	res, err := h.dispatcher.DispatchChannel(tc.Ctx, channelID)
	if err != nil {
		return err
	}
	if !res.Drained {
		tc.Progress("requeue")
		if err := EnqueueChannelDispatch(tc.Ctx, nil, h.tasks, channelID); err != nil {
			return err
		}
	}
	tc.Succeed("done")
	return nil
}

type DispatchUserHandler struct {
	dispatcher *sync.Dispatcher
	tasks      repos.TaskRunRepo
}

func NewDispatchUserHandler(dispatcher *sync.Dispatcher, tasks repos.TaskRunRepo) *DispatchUserHandler {
	return &DispatchUserHandler{dispatcher: dispatcher, tasks: tasks}
}

func (h *DispatchUserHandler) Type() string { return TaskTypeDispatchUser }

func (h *DispatchUserHandler) Run(tc *Context) error {
	userID, ok := tc.PayloadUUID("user_id")
	if !ok {
		return fmt.Errorf("missing user_id")
	}
	tc.Progress("dispatch")
	res, err := h.dispatcher.DispatchUser(tc.Ctx, userID)
	if err != nil {
		return err
	}
	if !res.Drained {
		tc.Progress("requeue")
		if err := EnqueueUserDispatch(tc.Ctx, nil, h.tasks, userID); err != nil {
			return err
		}
	}
	tc.Succeed("done")
	return nil
}

// PublishChannelHandler exports and versions a channel, then queues the
// license audit for the new version.
type PublishChannelHandler struct {
	publish *services.PublishService
	tasks   repos.TaskRunRepo
}

func NewPublishChannelHandler(publish *services.PublishService, tasks repos.TaskRunRepo) *PublishChannelHandler {
	return &PublishChannelHandler{publish: publish, tasks: tasks}
}

func (h *PublishChannelHandler) Type() string { return TaskTypePublishChannel }

func (h *PublishChannelHandler) Run(tc *Context) error {
	channelID, ok := tc.PayloadUUID("channel_id")
	if !ok {
		return fmt.Errorf("missing channel_id")
	}
	tc.Progress("export")
	version, err := h.publish.IncrementChannelVersion(tc.Ctx, channelID)
	if err != nil {
		return err
	}
	tc.Progress("audit_enqueue")
	if version.Version != nil {
		if err := EnqueueAudit(tc.Ctx, nil, h.tasks, channelID, *version.Version); err != nil {
			return err
		}
	}
	tc.Succeed("done")
	return nil
}

type AuditVersionHandler struct {
	audit *services.AuditService
}

func NewAuditVersionHandler(audit *services.AuditService) *AuditVersionHandler {
	return &AuditVersionHandler{audit: audit}
}

func (h *AuditVersionHandler) Type() string { return TaskTypeAuditVersion }

func (h *AuditVersionHandler) Run(tc *Context) error {
	channelID, ok := tc.PayloadUUID("channel_id")
	if !ok {
		return fmt.Errorf("missing channel_id")
	}
	rawVersion, ok := tc.Payload()["version"].(float64)
	if !ok {
		return fmt.Errorf("missing version")
	}
	tc.Progress("classify")
	if _, err := h.audit.AuditChannelVersion(tc.Ctx, channelID, int(rawVersion)); err != nil {
		return err
	}
	tc.Succeed("done")
	return nil
}

// GCHandler runs periodic garbage collection with a fixed retention window.
type GCHandler struct {
	maintenance *services.MaintenanceService
	retention   time.Duration
}

func NewGCHandler(maintenance *services.MaintenanceService, retention time.Duration) *GCHandler {
	return &GCHandler{maintenance: maintenance, retention: retention}
}

func (h *GCHandler) Type() string { return TaskTypeGC }

func (h *GCHandler) Run(tc *Context) error {
	tc.Progress("collect")
	if err := h.maintenance.GarbageCollect(tc.Ctx, h.retention); err != nil {
		return err
	}
	tc.Succeed("done")
	return nil
}

type SearchVectorHandler struct {
	maintenance *services.MaintenanceService
	batchSize   int
}

func NewSearchVectorHandler(maintenance *services.MaintenanceService, batchSize int) *SearchVectorHandler {
	return &SearchVectorHandler{maintenance: maintenance, batchSize: batchSize}
}

func (h *SearchVectorHandler) Type() string { return TaskTypeSearchVectors }

func (h *SearchVectorHandler) Run(tc *Context) error {
	tc.Progress("recompute")
	if _, err := h.maintenance.RecomputeSearchVectors(tc.Ctx, h.batchSize); err != nil {
		return err
	}
	tc.Succeed("done")
	return nil
}

type BackfillHandler struct {
	maintenance *services.MaintenanceService
}

func NewBackfillHandler(maintenance *services.MaintenanceService) *BackfillHandler {
	return &BackfillHandler{maintenance: maintenance}
}

func (h *BackfillHandler) Type() string { return TaskTypeBackfill }

func (h *BackfillHandler) Run(tc *Context) error {
	tc.Progress("backfill")
	if _, err := h.maintenance.BackfillChannelVersions(tc.Ctx); err != nil {
		return err
	}
	tc.Succeed("done")
	return nil
}
