package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// AuditService classifies a published version's licenses after the publish
// itself. Re-running an audit converges: audit records dedupe by description
// and the follow-up change is only emitted when the classification moved.
type AuditService struct {
	db       *gorm.DB
	channels repos.ChannelRepo
	versions repos.ChannelVersionRepo
	nodes    repos.ContentNodeRepo
	licenses repos.LicenseRepo
	audits   repos.AuditedLicenseRepo
	changes  repos.ChangeRepo
	log      *logger.Logger
}

func NewAuditService(db *gorm.DB, channels repos.ChannelRepo, versions repos.ChannelVersionRepo, nodes repos.ContentNodeRepo, licenses repos.LicenseRepo, audits repos.AuditedLicenseRepo, changes repos.ChangeRepo, baseLog *logger.Logger) *AuditService {
	return &AuditService{
		db:       db,
		channels: channels,
		versions: versions,
		nodes:    nodes,
		licenses: licenses,
		audits:   audits,
		changes:  changes,
		log:      baseLog.With("service", "AuditService"),
	}
}

// AuditResult is the classification persisted onto published_data.
type AuditResult struct {
	SpecialPermissionsLicenseIDs []int64
	InvalidLicenseIDs            []int64
}

func (s *AuditService) licenseIDByName(ctx context.Context, tx *gorm.DB, name string) (int64, error) {
	lic, err := s.licenses.GetByName(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	if lic == nil {
		return 0, fmt.Errorf("license %q not seeded", name)
	}
	return lic.ID, nil
}

// AuditChannelVersion runs the compliance classification for one published
// (channel, version) pair.
func (s *AuditService) AuditChannelVersion(ctx context.Context, channelID uuid.UUID, versionNum int) (*AuditResult, error) {
	channel, err := s.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	version, err := s.versions.GetByChannelAndVersion(ctx, nil, channelID, versionNum)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("channel %s has no version %d", channelID, versionNum)
	}

	specialID, err := s.licenseIDByName(ctx, nil, types.LicenseNameSpecialPermissions)
	if err != nil {
		return nil, err
	}
	arrID, err := s.licenseIDByName(ctx, nil, types.LicenseNameAllRightsReserved)
	if err != nil {
		return nil, err
	}

	included, err := s.includedLicenses(ctx, channel, version)
	if err != nil {
		return nil, err
	}
	includedSet := map[int64]bool{}
	for _, id := range included {
		includedSet[id] = true
	}

	result := &AuditResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if includedSet[specialID] {
			ids, auditRows, err := s.auditSpecialPermissions(ctx, tx, channel, version, specialID)
			if err != nil {
				return err
			}
			result.SpecialPermissionsLicenseIDs = ids
			if err := s.versions.ReplaceSpecialPermissions(ctx, tx, version.ID, auditRows); err != nil {
				return err
			}
		}
		if includedSet[arrID] {
			result.InvalidLicenseIDs = []int64{arrID}
			if err := s.versions.UpdateFields(ctx, tx, version.ID, map[string]interface{}{
				"non_distributable_licenses_included": mustJSON(result.InvalidLicenseIDs),
			}); err != nil {
				return err
			}
		}
		return s.persistResult(ctx, tx, channel, versionNum, included, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// includedLicenses reuses the list computed during publish and only rescans
// the snapshot when the version predates that computation.
func (s *AuditService) includedLicenses(ctx context.Context, channel *types.Channel, version *types.ChannelVersion) ([]int64, error) {
	if len(version.IncludedLicenses) > 0 {
		var ids []int64
		if err := json.Unmarshal(version.IncludedLicenses, &ids); err == nil && len(ids) > 0 {
			return ids, nil
		}
	}
	if channel.MainTreeID == nil {
		return nil, nil
	}
	root, err := s.nodes.GetByID(ctx, nil, *channel.MainTreeID)
	if err != nil || root == nil {
		return nil, err
	}
	treeNodes, err := s.nodes.GetByTreeID(ctx, nil, root.TreeID)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	var ids []int64
	for _, n := range treeNodes {
		if n.IsTopic() || n.LicenseID == nil {
			continue
		}
		if !seen[*n.LicenseID] {
			seen[*n.LicenseID] = true
			ids = append(ids, *n.LicenseID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// auditSpecialPermissions takes the distinct custom license descriptions
// frozen on the version at publish time, records the unseen ones, and returns
// the full matching audit id set, old and new.
func (s *AuditService) auditSpecialPermissions(ctx context.Context, tx *gorm.DB, channel *types.Channel, version *types.ChannelVersion, specialID int64) ([]int64, []*types.AuditedSpecialPermissionsLicense, error) {
	descriptions, err := s.versionDescriptions(ctx, tx, channel, version, specialID)
	if err != nil {
		return nil, nil, err
	}
	if len(descriptions) == 0 {
		return nil, nil, nil
	}

	existing, err := s.audits.GetByDescriptions(ctx, tx, descriptions)
	if err != nil {
		return nil, nil, err
	}
	known := map[string]*types.AuditedSpecialPermissionsLicense{}
	for _, a := range existing {
		known[a.Description] = a
	}
	var toCreate []*types.AuditedSpecialPermissionsLicense
	for _, d := range descriptions {
		if _, ok := known[d]; ok {
			continue
		}
		toCreate = append(toCreate, &types.AuditedSpecialPermissionsLicense{
			Description: d,
			// Distributable reflects whether the channel is public at audit time.
			Distributable: channel.Public,
		})
	}
	if len(toCreate) > 0 {
		created, err := s.audits.Create(ctx, tx, toCreate)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range created {
			known[a.Description] = a
		}
	}

	all := make([]*types.AuditedSpecialPermissionsLicense, 0, len(descriptions))
	ids := make([]int64, 0, len(descriptions))
	for _, d := range descriptions {
		a := known[d]
		all = append(all, a)
		ids = append(ids, a.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, all, nil
}

// versionDescriptions reads the descriptions frozen on the version row; only
// versions predating that freeze fall back to scanning the live main tree.
func (s *AuditService) versionDescriptions(ctx context.Context, tx *gorm.DB, channel *types.Channel, version *types.ChannelVersion, specialID int64) ([]string, error) {
	if len(version.LicenseDescriptions) > 0 {
		frozen := map[string][]string{}
		if err := json.Unmarshal(version.LicenseDescriptions, &frozen); err != nil {
			return nil, fmt.Errorf("malformed license_descriptions: %w", err)
		}
		return frozen[fmt.Sprintf("%d", specialID)], nil
	}

	if channel.MainTreeID == nil {
		return nil, nil
	}
	root, err := s.nodes.GetByID(ctx, tx, *channel.MainTreeID)
	if err != nil || root == nil {
		return nil, err
	}
	treeNodes, err := s.nodes.GetByTreeID(ctx, tx, root.TreeID)
	if err != nil {
		return nil, err
	}
	descSet := map[string]bool{}
	for _, n := range treeNodes {
		if n.LicenseID == nil || *n.LicenseID != specialID {
			continue
		}
		if n.LicenseDescription != "" {
			descSet[n.LicenseDescription] = true
		}
	}
	descriptions := make([]string, 0, len(descSet))
	for d := range descSet {
		descriptions = append(descriptions, d)
	}
	sort.Strings(descriptions)
	return descriptions, nil
}

// persistResult writes the classification onto published_data[version] and
// emits the completion change, but only when the entry actually moved.
func (s *AuditService) persistResult(ctx context.Context, tx *gorm.DB, channel *types.Channel, versionNum int, included []int64, result *AuditResult) error {
	all := map[string]types.PublishedVersionData{}
	if len(channel.PublishedData) > 0 {
		if err := json.Unmarshal(channel.PublishedData, &all); err != nil {
			return fmt.Errorf("malformed published_data: %w", err)
		}
	}
	key := fmt.Sprintf("%d", versionNum)
	entry := all[key]
	if entry.IncludedLicenses == nil {
		entry.IncludedLicenses = included
	}
	updated := entry
	updated.CommunityLibrarySpecialPerms = result.SpecialPermissionsLicenseIDs
	updated.CommunityLibraryInvalidLicenses = result.InvalidLicenseIDs
	updated.NonDistributableLicensesIncluded = result.InvalidLicenseIDs

	if jsonEqual(entry, updated) && all[key].IncludedLicenses != nil {
		// Re-run with no movement: no write, no change emission.
		return nil
	}
	all[key] = updated
	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	if err := s.channels.UpdateFields(ctx, tx, channel.ID, map[string]interface{}{
		"published_data": raw,
	}); err != nil {
		return err
	}
	followUp := &types.Change{
		TableName_: "channel",
		ChangeType: types.ChangeTypeUpdated,
		Kwargs: mustJSON(map[string]interface{}{
			"key":  channel.ID.String(),
			"mods": map[string]interface{}{"published_data": json.RawMessage(raw)},
		}),
		ChannelID: &channel.ID,
	}
	_, err = s.changes.Create(ctx, tx, []*types.Change{followUp})
	return err
}

func jsonEqual(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}
