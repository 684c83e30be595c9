package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/utils"
)

const (
	cacheKeyLicenseNames      = "studio:license_names"
	cacheKeyChangedChannels   = "studio:changed_channels"
	cacheKeySearchVectorsDone = "studio:search_vectors:processed"
)

// CacheService is the explicit home of the process-wide lookaside state:
// the license-name lookup, the changed-channel set, and the resumable
// search-vector progress set. Invalidation is always an explicit call from
// the write path that made the cached value stale.
type CacheService struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewCacheService(log *logger.Logger) (*CacheService, error) {
	serviceLog := log.With("service", "CacheService")
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &CacheService{rdb: rdb, log: serviceLog}, nil
}

func (c *CacheService) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// SetLicenseNames primes the license lookup after a seed or license change.
func (c *CacheService) SetLicenseNames(ctx context.Context, names map[int64]string) error {
	fields := make(map[string]interface{}, len(names))
	for id, name := range names {
		fields[strconv.FormatInt(id, 10)] = name
	}
	return c.rdb.HSet(ctx, cacheKeyLicenseNames, fields).Err()
}

// LicenseName returns the cached name, or "" on a miss; callers fall back to
// the license repo and reprime.
func (c *CacheService) LicenseName(ctx context.Context, id int64) (string, error) {
	name, err := c.rdb.HGet(ctx, cacheKeyLicenseNames, strconv.FormatInt(id, 10)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return name, err
}

// InvalidateLicenseNames drops the lookup; triggered by license table writes.
func (c *CacheService) InvalidateLicenseNames(ctx context.Context) error {
	return c.rdb.Del(ctx, cacheKeyLicenseNames).Err()
}

// MarkChannelChanged records that a channel has unsynced edits since its
// last publish.
func (c *CacheService) MarkChannelChanged(ctx context.Context, channelID uuid.UUID) error {
	return c.rdb.SAdd(ctx, cacheKeyChangedChannels, channelID.String()).Err()
}

// ClearChannelChanged runs when a publish completes.
func (c *CacheService) ClearChannelChanged(ctx context.Context, channelID uuid.UUID) error {
	return c.rdb.SRem(ctx, cacheKeyChangedChannels, channelID.String()).Err()
}

func (c *CacheService) ChangedChannelIDs(ctx context.Context) ([]uuid.UUID, error) {
	raw, err := c.rdb.SMembers(ctx, cacheKeyChangedChannels).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, perr := uuid.Parse(s); perr == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// MarkSearchVectorProcessed checkpoints one channel of the resumable
// search-vector recompute.
func (c *CacheService) MarkSearchVectorProcessed(ctx context.Context, channelID uuid.UUID) error {
	return c.rdb.SAdd(ctx, cacheKeySearchVectorsDone, channelID.String()).Err()
}

func (c *CacheService) IsSearchVectorProcessed(ctx context.Context, channelID uuid.UUID) (bool, error) {
	return c.rdb.SIsMember(ctx, cacheKeySearchVectorsDone, channelID.String()).Result()
}

// ResetSearchVectorProgress starts the next full recompute cycle.
func (c *CacheService) ResetSearchVectorProgress(ctx context.Context) error {
	return c.rdb.Del(ctx, cacheKeySearchVectorsDone).Err()
}
