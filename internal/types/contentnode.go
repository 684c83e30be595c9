package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	KindTopic    = "topic"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindExercise = "exercise"
	KindDocument = "document"
	KindHTML5    = "html5"
	KindSlides   = "slideshow"
)

// ContentNode is one row of the nested-set content tree. lft/rght/tree_id/level
// are owned by the tree store; nothing else may write them.
type ContentNode struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// NodeID is the stable logical identity of the node, preserved across copies.
	NodeID uuid.UUID `gorm:"type:uuid;not null;index" json:"node_id"`
	// ContentID is shared by substantially similar copies and drives interaction dedup.
	ContentID uuid.UUID `gorm:"type:uuid;not null;index" json:"content_id"`

	ParentID *uuid.UUID   `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Parent   *ContentNode `gorm:"foreignKey:ParentID;references:ID" json:"-"`

	TreeID int64 `gorm:"not null;index:idx_content_node_interval,priority:1" json:"tree_id"`
	Lft    int64 `gorm:"not null;index:idx_content_node_interval,priority:2" json:"lft"`
	Rght   int64 `gorm:"not null" json:"rght"`
	Level  int   `gorm:"not null" json:"level"`

	Kind        string `gorm:"not null;index" json:"kind"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description,omitempty"`

	LicenseID          *int64   `gorm:"index" json:"license_id,omitempty"`
	License            *License `gorm:"foreignKey:LicenseID;references:ID" json:"license,omitempty"`
	LicenseDescription string   `json:"license_description,omitempty"`
	CopyrightHolder    string   `json:"copyright_holder,omitempty"`
	Author             string   `json:"author,omitempty"`
	Provider           string   `json:"provider,omitempty"`
	Aggregator         string   `json:"aggregator,omitempty"`

	LangCode    string         `gorm:"column:lang_code;index" json:"lang_code,omitempty"`
	Categories  datatypes.JSON `gorm:"type:jsonb" json:"categories,omitempty"`
	ExtraFields datatypes.JSON `gorm:"type:jsonb" json:"extra_fields,omitempty"`

	// SortOrder strictly orders siblings under one parent.
	SortOrder float64 `gorm:"not null;default:1" json:"sort_order"`

	Published           bool `gorm:"not null;default:false;index" json:"published"`
	Complete            bool `gorm:"not null;default:false" json:"complete"`
	Changed             bool `gorm:"not null;default:true;index" json:"changed"`
	FreezeAuthoringData bool `gorm:"not null;default:false" json:"freeze_authoring_data"`

	// Provenance across copy hops: original_* is the ultimate origin, source_* the
	// immediate parent copy, cloned_source the direct clone lineage.
	OriginalChannelID    *uuid.UUID `gorm:"type:uuid" json:"original_channel_id,omitempty"`
	OriginalSourceNodeID *uuid.UUID `gorm:"type:uuid" json:"original_source_node_id,omitempty"`
	SourceChannelID      *uuid.UUID `gorm:"type:uuid" json:"source_channel_id,omitempty"`
	SourceNodeID         *uuid.UUID `gorm:"type:uuid" json:"source_node_id,omitempty"`
	ClonedSourceID       *uuid.UUID `gorm:"type:uuid" json:"cloned_source_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ContentNode) TableName() string { return "content_node" }

func (n *ContentNode) IsTopic() bool { return n.Kind == KindTopic }
