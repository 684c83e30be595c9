package types

// License ids are fixed and seeded at migration time; content nodes reference
// them by integer id in both the live schema and exported content databases.
type License struct {
	ID                      int64  `gorm:"primaryKey" json:"id"`
	LicenseName             string `gorm:"not null;uniqueIndex" json:"license_name"`
	LicenseURL              string `json:"license_url,omitempty"`
	LicenseDescription      string `json:"license_description,omitempty"`
	CopyrightHolderRequired bool   `gorm:"not null;default:true" json:"copyright_holder_required"`
	// IsCustom marks licenses whose terms live in the node's license_description.
	IsCustom bool `gorm:"not null;default:false" json:"is_custom"`
}

func (License) TableName() string { return "license" }

const (
	LicenseNameAllRightsReserved  = "All Rights Reserved"
	LicenseNameSpecialPermissions = "Special Permissions"
)

// SeedLicenses returns the canonical license fixture rows.
func SeedLicenses() []License {
	return []License{
		{ID: 1, LicenseName: "CC BY", LicenseURL: "https://creativecommons.org/licenses/by/4.0/"},
		{ID: 2, LicenseName: "CC BY-SA", LicenseURL: "https://creativecommons.org/licenses/by-sa/4.0/"},
		{ID: 3, LicenseName: "CC BY-ND", LicenseURL: "https://creativecommons.org/licenses/by-nd/4.0/"},
		{ID: 4, LicenseName: "CC BY-NC", LicenseURL: "https://creativecommons.org/licenses/by-nc/4.0/"},
		{ID: 5, LicenseName: "CC BY-NC-SA", LicenseURL: "https://creativecommons.org/licenses/by-nc-sa/4.0/"},
		{ID: 6, LicenseName: "CC BY-NC-ND", LicenseURL: "https://creativecommons.org/licenses/by-nc-nd/4.0/"},
		{ID: 7, LicenseName: LicenseNameAllRightsReserved},
		{ID: 8, LicenseName: "Public Domain", CopyrightHolderRequired: false},
		{ID: 9, LicenseName: LicenseNameSpecialPermissions, IsCustom: true},
	}
}
