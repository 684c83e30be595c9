package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SavedSearch struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Params    datatypes.JSON `gorm:"type:jsonb" json:"params,omitempty"`
	SavedByID uuid.UUID      `gorm:"type:uuid;not null;index" json:"saved_by_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SavedSearch) TableName() string { return "saved_search" }
