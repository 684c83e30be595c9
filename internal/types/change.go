package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Change type codes as submitted by clients.
const (
	ChangeTypeCreated   = 1
	ChangeTypeUpdated   = 2
	ChangeTypeDeleted   = 3
	ChangeTypeMoved     = 4
	ChangeTypeCopied    = 5
	ChangeTypePublished = 6
	ChangeTypeSynced    = 7
	ChangeTypeDeployed  = 8
)

// Change is one append-only entry of the client mutation log. ServerRev is the
// total order the dispatcher replays in; it is assigned by the sequence at
// insert time and never reassigned.
type Change struct {
	ServerRev int64  `gorm:"primaryKey;autoIncrement" json:"server_rev"`
	ClientRev *int64 `json:"client_rev,omitempty"`

	TableName_ string `gorm:"column:table_name;not null;index" json:"table"`
	ChangeType int    `gorm:"not null" json:"type"`

	// Kwargs holds the change payload: key, obj for creates, mods for updates,
	// target/position for moves, plus any handler-specific fields.
	Kwargs datatypes.JSON `gorm:"type:jsonb;not null" json:"kwargs"`

	ChannelID   *uuid.UUID `gorm:"type:uuid;index:idx_change_scope_pending,priority:1" json:"channel_id,omitempty"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CreatedByID *uuid.UUID `gorm:"type:uuid" json:"created_by_id,omitempty"`

	// Applied and Errored are mutually exclusive terminal states.
	Applied bool   `gorm:"not null;default:false;index:idx_change_scope_pending,priority:2" json:"applied"`
	Errored bool   `gorm:"not null;default:false;index:idx_change_scope_pending,priority:3" json:"errored"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Change) TableName() string { return "change" }

func (c *Change) Pending() bool { return !c.Applied && !c.Errored }
