package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// SubmissionService manages community library submissions. A channel may not
// be public and carry a live submission at the same time; the channel write
// path guards one direction and Submit guards the other.
type SubmissionService struct {
	db          *gorm.DB
	channels    repos.ChannelRepo
	versions    repos.ChannelVersionRepo
	submissions repos.CommunitySubmissionRepo
	log         *logger.Logger
}

func NewSubmissionService(db *gorm.DB, channels repos.ChannelRepo, versions repos.ChannelVersionRepo, submissions repos.CommunitySubmissionRepo, baseLog *logger.Logger) *SubmissionService {
	return &SubmissionService{
		db:          db,
		channels:    channels,
		versions:    versions,
		submissions: submissions,
		log:         baseLog.With("service", "SubmissionService"),
	}
}

// Submit proposes one published channel version for community distribution.
func (s *SubmissionService) Submit(ctx context.Context, channelID uuid.UUID, versionNum int) (*types.CommunityLibrarySubmission, error) {
	channel, err := s.channels.GetByID(ctx, nil, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil || channel.Deleted {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	if channel.Public {
		return nil, fmt.Errorf("channel %s is public and cannot be submitted to the community library", channelID)
	}
	version, err := s.versions.GetByChannelAndVersion(ctx, nil, channelID, versionNum)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("channel %s has no published version %d", channelID, versionNum)
	}
	hasLive, err := s.submissions.HasLiveForChannel(ctx, nil, channelID)
	if err != nil {
		return nil, err
	}
	if hasLive {
		return nil, fmt.Errorf("channel %s already has a live community library submission", channelID)
	}
	sub := &types.CommunityLibrarySubmission{
		ID:               uuid.New(),
		ChannelID:        channelID,
		ChannelVersionID: &version.ID,
		Status:           types.SubmissionStatusPending,
	}
	if _, err := s.submissions.Create(ctx, nil, sub); err != nil {
		return nil, err
	}
	s.log.Info("Created community library submission", "channel_id", channelID, "version", versionNum)
	return sub, nil
}

// Resolve moves a submission to a terminal review status. Approving re-checks
// the exclusivity against the channel's current public flag.
func (s *SubmissionService) Resolve(ctx context.Context, submissionID uuid.UUID, status string) error {
	switch status {
	case types.SubmissionStatusApproved, types.SubmissionStatusLive, types.SubmissionStatusRejected:
	default:
		return fmt.Errorf("invalid submission status %q", status)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.submissions.GetByID(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("submission %s not found", submissionID)
		}
		if status != types.SubmissionStatusRejected {
			channel, err := s.channels.GetByID(ctx, tx, sub.ChannelID)
			if err != nil {
				return err
			}
			if channel != nil && channel.Public {
				return fmt.Errorf("channel %s is public; submission cannot go live", sub.ChannelID)
			}
		}
		now := time.Now()
		return s.submissions.UpdateFields(ctx, tx, submissionID, map[string]interface{}{
			"status":      status,
			"resolved_at": now,
		})
	})
}
