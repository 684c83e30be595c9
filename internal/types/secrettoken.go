package types

import (
	"time"

	"github.com/google/uuid"
)

// SecretToken grants read access to a channel or to a draft version preview.
// Only the token hash is stored; the cleartext is returned once at mint time.
type SecretToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TokenHash string    `gorm:"not null;uniqueIndex" json:"-"`
	// IsPrimary distinguishes the channel's canonical token from per-draft preview tokens.
	IsPrimary bool `gorm:"not null;default:false" json:"is_primary"`

	ChannelID        *uuid.UUID `gorm:"type:uuid;index" json:"channel_id,omitempty"`
	ChannelVersionID *uuid.UUID `gorm:"type:uuid;index" json:"channel_version_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (SecretToken) TableName() string { return "secret_token" }
