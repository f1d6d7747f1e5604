package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
)

const defaultProfileTTL = 5 * time.Minute

// CachedProfileService is a Redis read-through decorator over a
// ProfileService. Cache failures degrade to the underlying service
// rather than failing the lookup.
//
// Tier decisions in the archive and completion paths must see upgrades
// made by the front end promptly, so those call sites are wired with
// the uncached repository; this decorator serves the lookups where a
// TTL of staleness is acceptable (names and emails on notifications).
type CachedProfileService struct {
	next   core.ProfileService
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ core.ProfileService = (*CachedProfileService)(nil)

// CachedProfileServiceOptions configures the decorator.
type CachedProfileServiceOptions struct {
	Next   core.ProfileService
	Client redis.UniversalClient
	TTL    time.Duration
	Logger *slog.Logger
}

// NewCachedProfileService wraps next with a Redis cache.
func NewCachedProfileService(opts CachedProfileServiceOptions) *CachedProfileService {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProfileService{
		next:   opts.Next,
		client: opts.Client,
		ttl:    ttl,
		logger: logger,
	}
}

func profileCacheKey(userID string) string {
	return "annex:profile:" + userID
}

// GetProfile returns the cached profile when present, falling back to
// the underlying service and populating the cache on a miss.
func (s *CachedProfileService) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if s.client != nil {
		raw, err := s.client.Get(ctx, profileCacheKey(userID)).Result()
		switch {
		case err == nil:
			var p model.UserProfile
			if unmarshalErr := json.Unmarshal([]byte(raw), &p); unmarshalErr == nil {
				return &p, nil
			}
			// Corrupt entry: fall through to a fresh read that overwrites it.
		case !errors.Is(err, redis.Nil):
			s.logger.DebugContext(ctx, "profile cache read failed", "user_id", userID, "error", err)
		}
	}

	p, err := s.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.client != nil {
		if raw, marshalErr := json.Marshal(p); marshalErr == nil {
			if setErr := s.client.Set(ctx, profileCacheKey(userID), raw, s.ttl).Err(); setErr != nil {
				s.logger.DebugContext(ctx, "profile cache write failed", "user_id", userID, "error", setErr)
			}
		}
	}
	return p, nil
}

// UpdateProfile writes through to the underlying service and drops the
// cached entry.
func (s *CachedProfileService) UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) error {
	if err := s.next.UpdateProfile(ctx, userID, upd); err != nil {
		return err
	}
	if s.client != nil {
		if err := s.client.Del(ctx, profileCacheKey(userID)).Err(); err != nil {
			return fmt.Errorf("invalidate profile cache: %w", err)
		}
	}
	return nil
}
