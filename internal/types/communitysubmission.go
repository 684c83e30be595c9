package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubmissionStatusPending  = "pending"
	SubmissionStatusLive     = "live"
	SubmissionStatusApproved = "approved"
	SubmissionStatusRejected = "rejected"
)

// CommunityLibrarySubmission proposes a channel version for community library
// distribution. A channel may not be public and have a live/approved submission
// at the same time; writes enforce the exclusivity in both directions.
type CommunityLibrarySubmission struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChannelID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"channel_id"`
	Channel          *Channel   `gorm:"foreignKey:ChannelID;references:ID" json:"-"`
	ChannelVersionID *uuid.UUID `gorm:"type:uuid" json:"channel_version_id,omitempty"`

	Status     string     `gorm:"not null;default:'pending';index" json:"status"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CommunityLibrarySubmission) TableName() string { return "community_library_submission" }

func (s *CommunityLibrarySubmission) Live() bool {
	return s.Status == SubmissionStatusLive || s.Status == SubmissionStatusApproved
}
