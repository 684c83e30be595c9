package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Channel owns several distinct content trees, addressed by the root node ids.
type Channel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	LangCode    string    `gorm:"column:lang_code" json:"lang_code,omitempty"`

	// Version is advanced only by the publish pipeline.
	Version int `gorm:"not null;default:0" json:"version"`

	Public  bool `gorm:"not null;default:false;index" json:"public"`
	Deleted bool `gorm:"not null;default:false;index" json:"deleted"`

	MainTreeID     *uuid.UUID `gorm:"type:uuid" json:"main_tree_id,omitempty"`
	TrashTreeID    *uuid.UUID `gorm:"type:uuid" json:"trash_tree_id,omitempty"`
	StagingTreeID  *uuid.UUID `gorm:"type:uuid" json:"staging_tree_id,omitempty"`
	ChefTreeID     *uuid.UUID `gorm:"type:uuid" json:"chef_tree_id,omitempty"`
	PreviousTreeID *uuid.UUID `gorm:"type:uuid" json:"previous_tree_id,omitempty"`

	VersionInfoID *uuid.UUID      `gorm:"type:uuid" json:"version_info_id,omitempty"`
	VersionInfo   *ChannelVersion `gorm:"foreignKey:VersionInfoID;references:ID" json:"version_info,omitempty"`

	// PublishedData maps string version number to the frozen per-version metadata.
	PublishedData datatypes.JSON `gorm:"type:jsonb" json:"published_data,omitempty"`

	LastPublished *time.Time `json:"last_published,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Channel) TableName() string { return "channel" }

// PublishedVersionData is the schema of one published_data entry.
type PublishedVersionData struct {
	IncludedCategories               []string `json:"included_categories"`
	IncludedLanguages                []string `json:"included_languages"`
	IncludedLicenses                 []int64  `json:"included_licenses"`
	NonDistributableLicensesIncluded []int64  `json:"non_distributable_licenses_included"`
	CommunityLibraryInvalidLicenses  []int64  `json:"community_library_invalid_licenses"`
	CommunityLibrarySpecialPerms     []int64  `json:"community_library_special_permissions"`
}
