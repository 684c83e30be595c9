package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// TaskRun is one unit of background work (a dispatch pass, a publish, a
// maintenance job), claimed by workers with SKIP LOCKED.
type TaskRun struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TaskType string    `gorm:"not null;index" json:"task_type"`
	// ScopeKey serializes tasks that must not run concurrently, e.g.
	// "channel:<id>" for a channel's dispatch passes.
	ScopeKey string `gorm:"index" json:"scope_key,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`

	Status   string `gorm:"not null;default:'queued';index" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`
	Stage    string `json:"stage,omitempty"`
	Error    string `json:"error,omitempty"`

	LockedAt    *time.Time `json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (TaskRun) TableName() string { return "task_run" }
