package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChannelSet is a named collection of channels shared as one unit.
type ChannelSet struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	// Channels is the ordered list of member channel ids.
	Channels datatypes.JSON `gorm:"type:jsonb" json:"channels,omitempty"`

	EditorID *uuid.UUID `gorm:"type:uuid;index" json:"editor_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChannelSet) TableName() string { return "channel_set" }
