package types

import (
	"time"

	"github.com/google/uuid"
)

// CaptionFile is a generated or uploaded caption track for a media file.
type CaptionFile struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FileID uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`
	File   *File     `gorm:"constraint:OnDelete:CASCADE;foreignKey:FileID;references:ID" json:"-"`

	LangCode string `gorm:"column:lang_code;not null" json:"lang_code"`
	Caption  string `json:"caption,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CaptionFile) TableName() string { return "caption_file" }
