package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// MaintenanceService hosts the scheduled batch work: ChannelVersion backfill
// from historical published_data, resumable search-vector recomputation, and
// garbage collection of orphaned subtrees and stale rows.
type MaintenanceService struct {
	db       *gorm.DB
	channels repos.ChannelRepo
	versions repos.ChannelVersionRepo
	files    repos.FileRepo
	changes  repos.ChangeRepo
	cache    *CacheService
	log      *logger.Logger
}

func NewMaintenanceService(db *gorm.DB, channels repos.ChannelRepo, versions repos.ChannelVersionRepo, files repos.FileRepo, changes repos.ChangeRepo, cache *CacheService, baseLog *logger.Logger) *MaintenanceService {
	return &MaintenanceService{
		db:       db,
		channels: channels,
		versions: versions,
		files:    files,
		changes:  changes,
		cache:    cache,
		log:      baseLog.With("service", "MaintenanceService"),
	}
}

// BackfillChannelVersions creates ChannelVersion rows for published_data
// entries that predate the versions table. Existing rows are left alone.
func (s *MaintenanceService) BackfillChannelVersions(ctx context.Context) (int, error) {
	var channels []*types.Channel
	if err := s.db.WithContext(ctx).
		Where("published_data IS NOT NULL AND deleted = false").
		Find(&channels).Error; err != nil {
		return 0, err
	}
	created := 0
	for _, channel := range channels {
		all := map[string]types.PublishedVersionData{}
		if len(channel.PublishedData) == 0 {
			continue
		}
		if err := json.Unmarshal(channel.PublishedData, &all); err != nil {
			s.log.Warn("Skipping channel with malformed published_data", "channel_id", channel.ID, "error", err)
			continue
		}
		for versionKey, data := range all {
			var versionNum int
			if _, err := fmt.Sscanf(versionKey, "%d", &versionNum); err != nil {
				continue
			}
			existing, err := s.versions.GetByChannelAndVersion(ctx, nil, channel.ID, versionNum)
			if err != nil {
				return created, err
			}
			if existing != nil {
				continue
			}
			versionNumCopy := versionNum
			row := &types.ChannelVersion{
				ID:                 uuid.New(),
				ChannelID:          channel.ID,
				Version:            &versionNumCopy,
				IncludedCategories: mustJSON(data.IncludedCategories),
				IncludedLanguages:  mustJSON(data.IncludedLanguages),
				IncludedLicenses:   mustJSON(data.IncludedLicenses),
			}
			if data.NonDistributableLicensesIncluded != nil {
				row.NonDistributableLicensesIncluded = mustJSON(data.NonDistributableLicensesIncluded)
			}
			if _, err := s.versions.Create(ctx, nil, row); err != nil {
				return created, err
			}
			created++
		}
	}
	s.log.Info("Backfilled channel versions", "created", created)
	return created, nil
}

// RecomputeSearchVectors rebuilds full-text vectors channel by channel. The
// cache checkpoints processed channel ids, so an interrupted run resumes
// where it stopped instead of starting over.
func (s *MaintenanceService) RecomputeSearchVectors(ctx context.Context, batchSize int) (int, error) {
	if err := s.db.WithContext(ctx).Exec(
		"ALTER TABLE content_node ADD COLUMN IF NOT EXISTS search_vector tsvector",
	).Error; err != nil {
		return 0, err
	}

	var channels []*types.Channel
	if err := s.db.WithContext(ctx).
		Where("deleted = false AND main_tree_id IS NOT NULL").
		Order("created_at ASC").
		Find(&channels).Error; err != nil {
		return 0, err
	}
	processed := 0
	for _, channel := range channels {
		if batchSize > 0 && processed >= batchSize {
			break
		}
		if s.cache != nil {
			done, err := s.cache.IsSearchVectorProcessed(ctx, channel.ID)
			if err != nil {
				return processed, err
			}
			if done {
				continue
			}
		}
		if err := s.db.WithContext(ctx).Exec(`
			UPDATE content_node SET search_vector =
				to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(description, ''))
			WHERE tree_id = (SELECT tree_id FROM content_node WHERE id = ?)`,
			*channel.MainTreeID,
		).Error; err != nil {
			return processed, err
		}
		if s.cache != nil {
			if err := s.cache.MarkSearchVectorProcessed(ctx, channel.ID); err != nil {
				return processed, err
			}
		}
		processed++
	}
	s.log.Info("Recomputed search vectors", "channels", processed)
	return processed, nil
}

// GarbageCollect removes subtrees whose tree is referenced by no channel or
// clipboard, files attached to nothing, and terminal changes past retention.
func (s *MaintenanceService) GarbageCollect(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	// Orphaned trees: no channel root and no user clipboard points at them.
	err := s.db.WithContext(ctx).Exec(`
		DELETE FROM content_node WHERE tree_id IN (
			SELECT cn.tree_id FROM content_node cn
			WHERE cn.parent_id IS NULL
			GROUP BY cn.tree_id
			HAVING bool_and(
				NOT EXISTS (
					SELECT 1 FROM channel c
					WHERE c.main_tree_id = cn.id OR c.trash_tree_id = cn.id
						OR c.staging_tree_id = cn.id OR c.chef_tree_id = cn.id
						OR c.previous_tree_id = cn.id
				)
				AND NOT EXISTS (
					SELECT 1 FROM "user" u WHERE u.clipboard_tree_id = cn.id
				)
				AND cn.created_at < ?
			)
		)`, cutoff).Error
	if err != nil {
		return fmt.Errorf("orphan subtree collection: %w", err)
	}

	staleFiles, err := s.files.DeleteStaleOrphans(ctx, nil, cutoff)
	if err != nil {
		return fmt.Errorf("stale file collection: %w", err)
	}
	staleChanges, err := s.changes.DeleteTerminalOlderThan(ctx, nil, cutoff)
	if err != nil {
		return fmt.Errorf("terminal change collection: %w", err)
	}
	s.log.Info("Garbage collection complete", "stale_files", staleFiles, "stale_changes", staleChanges)
	return nil
}
