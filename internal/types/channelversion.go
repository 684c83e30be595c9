package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChannelVersion is the immutable record of one publish (or draft) snapshot.
// Draft versions have Version == nil and own a dedicated non-primary preview token.
type ChannelVersion struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChannelID uuid.UUID `gorm:"type:uuid;not null;index:idx_channel_version,priority:1" json:"channel_id"`
	Channel   *Channel  `gorm:"foreignKey:ChannelID;references:ID" json:"-"`

	Version *int `gorm:"index:idx_channel_version,priority:2" json:"version,omitempty"`

	IncludedCategories datatypes.JSON `gorm:"type:jsonb" json:"included_categories,omitempty"`
	IncludedLicenses   datatypes.JSON `gorm:"type:jsonb" json:"included_licenses,omitempty"`
	IncludedLanguages  datatypes.JSON `gorm:"type:jsonb" json:"included_languages,omitempty"`

	// LicenseDescriptions freezes the snapshot's distinct custom license
	// descriptions per license id, so later edits to the live tree cannot
	// alter what this version is audited against.
	LicenseDescriptions datatypes.JSON `gorm:"type:jsonb" json:"license_descriptions,omitempty"`

	NonDistributableLicensesIncluded datatypes.JSON `gorm:"type:jsonb" json:"non_distributable_licenses_included,omitempty"`

	SpecialPermissions []*AuditedSpecialPermissionsLicense `gorm:"many2many:channel_version_special_permissions" json:"special_permissions,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChannelVersion) TableName() string { return "channel_version" }

// AuditedSpecialPermissionsLicense records one distinct Special Permissions
// license description encountered during a compliance audit.
type AuditedSpecialPermissionsLicense struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Description   string `gorm:"not null;uniqueIndex" json:"description"`
	Distributable bool   `gorm:"not null;default:false" json:"distributable"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (AuditedSpecialPermissionsLicense) TableName() string {
	return "audited_special_permissions_license"
}
