package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// PublishService owns the draft/published version state machine. The version
// counter only advances when the snapshot export succeeded, so a failed
// export never leaves a half-published version behind.
type PublishService struct {
	db       *gorm.DB
	channels repos.ChannelRepo
	nodes    repos.ContentNodeRepo
	versions repos.ChannelVersionRepo
	changes  repos.ChangeRepo
	tokens   *TokenService
	exporter *Exporter
	cache    *CacheService
	log      *logger.Logger
}

func NewPublishService(db *gorm.DB, channels repos.ChannelRepo, nodes repos.ContentNodeRepo, versions repos.ChannelVersionRepo, changes repos.ChangeRepo, tokens *TokenService, exporter *Exporter, cache *CacheService, baseLog *logger.Logger) *PublishService {
	return &PublishService{
		db:       db,
		channels: channels,
		nodes:    nodes,
		versions: versions,
		changes:  changes,
		tokens:   tokens,
		exporter: exporter,
		cache:    cache,
		log:      baseLog.With("service", "PublishService"),
	}
}

// versionMetadata is the scan result over one snapshot's non-topic nodes.
type versionMetadata struct {
	categories []string
	languages  []string
	licenses   []int64
	// descriptions holds the distinct custom license descriptions keyed by
	// string license id.
	descriptions map[string][]string
	nodeIDs      []uuid.UUID
}

// computeVersionMetadata scans a snapshot. Topics are excluded; null/empty
// values never enter the included lists.
func computeVersionMetadata(treeNodes []*types.ContentNode) versionMetadata {
	catSet := map[string]bool{}
	langSet := map[string]bool{}
	licSet := map[int64]bool{}
	descSet := map[int64]map[string]bool{}
	meta := versionMetadata{}
	for _, n := range treeNodes {
		meta.nodeIDs = append(meta.nodeIDs, n.ID)
		if n.IsTopic() {
			continue
		}
		if n.LangCode != "" {
			langSet[n.LangCode] = true
		}
		if n.LicenseID != nil {
			licSet[*n.LicenseID] = true
			if n.LicenseDescription != "" {
				if descSet[*n.LicenseID] == nil {
					descSet[*n.LicenseID] = map[string]bool{}
				}
				descSet[*n.LicenseID][n.LicenseDescription] = true
			}
		}
		if len(n.Categories) > 0 {
			var cats []string
			if err := json.Unmarshal(n.Categories, &cats); err == nil {
				for _, c := range cats {
					if c != "" {
						catSet[c] = true
					}
				}
			}
		}
	}
	for c := range catSet {
		meta.categories = append(meta.categories, c)
	}
	for l := range langSet {
		meta.languages = append(meta.languages, l)
	}
	for id := range licSet {
		meta.licenses = append(meta.licenses, id)
	}
	sort.Strings(meta.categories)
	sort.Strings(meta.languages)
	sort.Slice(meta.licenses, func(i, j int) bool { return meta.licenses[i] < meta.licenses[j] })
	meta.descriptions = map[string][]string{}
	for id, set := range descSet {
		ds := make([]string, 0, len(set))
		for d := range set {
			ds = append(ds, d)
		}
		sort.Strings(ds)
		meta.descriptions[fmt.Sprintf("%d", id)] = ds
	}
	return meta
}

func mustJSON(v interface{}) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// loadSnapshot reads the channel's live main tree once.
func (s *PublishService) loadSnapshot(ctx context.Context, tx *gorm.DB, channel *types.Channel) ([]*types.ContentNode, error) {
	if channel.MainTreeID == nil {
		return nil, fmt.Errorf("channel %s has no main tree", channel.ID)
	}
	root, err := s.nodes.GetByID(ctx, tx, *channel.MainTreeID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("channel %s main tree root missing", channel.ID)
	}
	return s.nodes.GetByTreeID(ctx, tx, root.TreeID)
}

// IncrementChannelVersion publishes the channel's main tree as the next
// integer version.
func (s *PublishService) IncrementChannelVersion(ctx context.Context, channelID uuid.UUID) (*types.ChannelVersion, error) {
	channel, err := s.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil || channel.Deleted {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	treeNodes, err := s.loadSnapshot(ctx, nil, channel)
	if err != nil {
		return nil, err
	}

	newVersion := channel.Version + 1
	meta := computeVersionMetadata(treeNodes)

	// Export first: the version counter must not advance when the snapshot
	// artifact cannot be produced.
	if _, err := s.exporter.Export(ctx, nil, channelID, newVersion, treeNodes); err != nil {
		return nil, fmt.Errorf("content database export failed: %w", err)
	}

	var created *types.ChannelVersion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version := &types.ChannelVersion{
			ID:                  uuid.New(),
			ChannelID:           channelID,
			Version:             &newVersion,
			IncludedCategories:  mustJSON(meta.categories),
			IncludedLanguages:   mustJSON(meta.languages),
			IncludedLicenses:    mustJSON(meta.licenses),
			LicenseDescriptions: mustJSON(meta.descriptions),
		}
		if _, err := s.versions.Create(ctx, tx, version); err != nil {
			return err
		}

		publishedData, err := upsertPublishedData(channel.PublishedData, newVersion, types.PublishedVersionData{
			IncludedCategories: meta.categories,
			IncludedLanguages:  meta.languages,
			IncludedLicenses:   meta.licenses,
		})
		if err != nil {
			return err
		}
		now := time.Now()
		if err := s.channels.UpdateFields(ctx, tx, channelID, map[string]interface{}{
			"version":         newVersion,
			"version_info_id": version.ID,
			"published_data":  publishedData,
			"last_published":  now,
		}); err != nil {
			return err
		}

		// Short, locked, all-or-nothing: the snapshot's nodes flip to
		// published/clean in one statement.
		if err := s.nodes.UpdateFieldsByIDs(ctx, tx, meta.nodeIDs, map[string]interface{}{
			"published": true,
			"changed":   false,
		}); err != nil {
			return err
		}

		followUp := &types.Change{
			TableName_: "channel",
			ChangeType: types.ChangeTypePublished,
			Kwargs: mustJSON(map[string]interface{}{
				"key":     channelID.String(),
				"version": newVersion,
			}),
			ChannelID: &channelID,
		}
		if _, err := s.changes.Create(ctx, tx, []*types.Change{followUp}); err != nil {
			return err
		}
		created = version
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cerr := s.cache.ClearChannelChanged(ctx, channelID); cerr != nil {
			s.log.Warn("Failed to clear changed-channel cache", "channel_id", channelID, "error", cerr)
		}
	}
	s.log.Info("Published channel version", "channel_id", channelID, "version", newVersion)
	return created, nil
}

// CreateDraftChannelVersion snapshots metadata without assigning a version
// and mints a preview token for it. channel.version and version_info are
// untouched.
func (s *PublishService) CreateDraftChannelVersion(ctx context.Context, channelID uuid.UUID) (*types.ChannelVersion, string, error) {
	channel, err := s.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return nil, "", err
	}
	if channel == nil || channel.Deleted {
		return nil, "", fmt.Errorf("channel %s not found", channelID)
	}
	treeNodes, err := s.loadSnapshot(ctx, nil, channel)
	if err != nil {
		return nil, "", err
	}
	meta := computeVersionMetadata(treeNodes)

	var created *types.ChannelVersion
	var previewToken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version := &types.ChannelVersion{
			ID:                  uuid.New(),
			ChannelID:           channelID,
			Version:             nil,
			IncludedCategories:  mustJSON(meta.categories),
			IncludedLanguages:   mustJSON(meta.languages),
			IncludedLicenses:    mustJSON(meta.licenses),
			LicenseDescriptions: mustJSON(meta.descriptions),
		}
		if _, err := s.versions.Create(ctx, tx, version); err != nil {
			return err
		}
		cleartext, _, err := s.tokens.MintPreview(ctx, tx, channelID, version.ID)
		if err != nil {
			return err
		}
		created = version
		previewToken = cleartext
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return created, previewToken, nil
}

// upsertPublishedData merges one version entry into the channel's
// published_data map, keyed by string version number.
func upsertPublishedData(existing []byte, version int, data types.PublishedVersionData) ([]byte, error) {
	all := map[string]types.PublishedVersionData{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &all); err != nil {
			return nil, fmt.Errorf("malformed published_data: %w", err)
		}
	}
	all[fmt.Sprintf("%d", version)] = data
	return json.Marshal(all)
}
