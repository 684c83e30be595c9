package types

import (
	"time"

	"github.com/google/uuid"
)

// Bookmark marks a channel as starred by a user; keyed by the ordered
// (user_id, channel_id) pair like other composite-key sync tables.
type Bookmark struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ChannelID uuid.UUID `gorm:"type:uuid;primaryKey" json:"channel_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Bookmark) TableName() string { return "bookmark" }
