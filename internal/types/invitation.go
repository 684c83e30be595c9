package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ShareModeEdit = "edit"
	ShareModeView = "view"
)

type Invitation struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string     `gorm:"not null;index" json:"email"`
	ChannelID uuid.UUID  `gorm:"type:uuid;not null;index" json:"channel_id"`
	InvitedID *uuid.UUID `gorm:"type:uuid" json:"invited_id,omitempty"`
	SenderID  *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`

	ShareMode string `gorm:"not null;default:'edit'" json:"share_mode"`

	Accepted bool `gorm:"not null;default:false" json:"accepted"`
	Declined bool `gorm:"not null;default:false" json:"declined"`
	Revoked  bool `gorm:"not null;default:false" json:"revoked"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Invitation) TableName() string { return "invitation" }
