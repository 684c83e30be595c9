package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email     string    `gorm:"not null;uniqueIndex" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`
	IsAdmin  bool `gorm:"not null;default:false" json:"is_admin"`

	// ClipboardTreeID points at the user's personal clipboard root node.
	ClipboardTreeID *uuid.UUID `gorm:"type:uuid" json:"clipboard_tree_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "user" }

// ChannelUser is the user-channel editor membership, keyed by the ordered
// (user_id, channel_id) pair that composite-key sync changes round-trip.
type ChannelUser struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ChannelID uuid.UUID `gorm:"type:uuid;primaryKey" json:"channel_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ChannelUser) TableName() string { return "channel_user" }
