package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AssessmentItem is one question of an exercise node.
type AssessmentItem struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ContentNodeID uuid.UUID    `gorm:"type:uuid;not null;index" json:"contentnode_id"`
	ContentNode   *ContentNode `gorm:"constraint:OnDelete:CASCADE;foreignKey:ContentNodeID;references:ID" json:"-"`

	// AssessmentID is stable across copies, like ContentNode.NodeID.
	AssessmentID uuid.UUID `gorm:"type:uuid;not null;index" json:"assessment_id"`

	Type     string         `gorm:"not null" json:"type"`
	Question string         `json:"question,omitempty"`
	Answers  datatypes.JSON `gorm:"type:jsonb" json:"answers,omitempty"`
	Hints    datatypes.JSON `gorm:"type:jsonb" json:"hints,omitempty"`

	Order   float64 `gorm:"column:item_order;not null;default:1" json:"order"`
	Deleted bool    `gorm:"not null;default:false" json:"deleted"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AssessmentItem) TableName() string { return "assessment_item" }
