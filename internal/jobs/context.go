package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// Context is the execution handle for one claimed task run. Handlers report
// progress and terminal state through it instead of touching task_run rows.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Task    *types.TaskRun
	Repo    repos.TaskRunRepo
	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, task *types.TaskRun, repo repos.TaskRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Task: task,
		Repo: repo,
	}
	_ = c.decodePayload()
	return c
}

// decodePayload parses Task.Payload into a map. Malformed payload leaves an
// empty map; handlers validate the fields they require.
func (c *Context) decodePayload() error {
	if c.Task == nil || len(c.Task.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Task.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field and parses it as a UUID.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Progress records the current stage and refreshes the heartbeat.
func (c *Context) Progress(stage string) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	now := time.Now()
	_ = c.Repo.UpdateFields(c.Ctx, nil, c.Task.ID, map[string]interface{}{
		"stage":        stage,
		"heartbeat_at": now,
	})
	c.Task.Stage = stage
	c.Task.HeartbeatAt = &now
}

// Fail marks the run terminally failed. The claim query re-runs failed tasks
// until attempts reach the cap.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = c.Repo.UpdateFields(c.Ctx, nil, c.Task.ID, map[string]interface{}{
		"status":        types.TaskStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
	c.Task.Status = types.TaskStatusFailed
	c.Task.Stage = stage
	c.Task.Error = msg
	c.Task.LastErrorAt = &now
	c.Task.LockedAt = nil
}

func (c *Context) Succeed(finalStage string) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	_ = c.Repo.UpdateFields(c.Ctx, nil, c.Task.ID, map[string]interface{}{
		"status":    types.TaskStatusSucceeded,
		"stage":     finalStage,
		"error":     "",
		"locked_at": nil,
	})
	c.Task.Status = types.TaskStatusSucceeded
	c.Task.Stage = finalStage
	c.Task.Error = ""
	c.Task.LockedAt = nil
}
