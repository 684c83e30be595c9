package types

import (
	"time"

	"github.com/google/uuid"
)

// File is one stored attachment of a content node or assessment item. Files
// are content-addressed by checksum; resource size aggregation dedups on it.
type File struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	ContentNodeID    *uuid.UUID   `gorm:"type:uuid;index" json:"contentnode_id,omitempty"`
	ContentNode      *ContentNode `gorm:"foreignKey:ContentNodeID;references:ID" json:"-"`
	AssessmentItemID *uuid.UUID   `gorm:"type:uuid;index" json:"assessment_item_id,omitempty"`

	Checksum   string `gorm:"not null;index" json:"checksum"`
	FileSize   int64  `gorm:"not null;default:0" json:"file_size"`
	FileFormat string `json:"file_format,omitempty"`
	// Preset identifies the role of the file on its node (high_res_video, thumbnail, epub, ...).
	Preset   string `gorm:"index" json:"preset,omitempty"`
	LangCode string `gorm:"column:lang_code" json:"lang_code,omitempty"`

	Uploaded  bool `gorm:"not null;default:false" json:"uploaded"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (File) TableName() string { return "file" }
