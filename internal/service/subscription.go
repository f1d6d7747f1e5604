package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
)

// SubscriptionServiceOptions groups dependencies for SubscriptionService.
type SubscriptionServiceOptions struct {
	Profiles     core.ProfileService // Required: profile store
	Publisher    core.Publisher      // Required: topic fan-out
	RestoreTopic string              // Required: upgrade-trigger topic ARN
	Logger       *slog.Logger        // Optional: structured logger
}

// SubscriptionService applies a subscription upgrade: it promotes the
// profile to the premium tier and publishes the restore trigger that
// brings the user's archived results back to hot storage.
type SubscriptionService struct {
	profiles  core.ProfileService
	publisher core.Publisher
	topic     string
	logger    *slog.Logger
}

// NewSubscriptionService constructs a new SubscriptionService.
func NewSubscriptionService(opts SubscriptionServiceOptions) (*SubscriptionService, error) {
	if opts.Profiles == nil {
		return nil, errors.New("ProfileService is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("Publisher is required")
	}
	if opts.RestoreTopic == "" {
		return nil, errors.New("RestoreTopic is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "subscription_service")
	}

	return &SubscriptionService{
		profiles:  opts.Profiles,
		publisher: opts.Publisher,
		topic:     opts.RestoreTopic,
		logger:    logger,
	}, nil
}

// Upgrade promotes userID to the premium tier and triggers the restore
// sweep. Upgrading an already-premium user republishes the trigger,
// which the restore worker absorbs as an empty sweep.
func (s *SubscriptionService) Upgrade(ctx context.Context, userID string) error {
	premium := model.RolePremiumUser
	if err := s.profiles.UpdateProfile(ctx, userID, model.ProfileUpdate{
		Role: &premium,
	}); err != nil {
		return fmt.Errorf("promote profile: %w", err)
	}

	payload, err := json.Marshal(model.RestoreMessage{UserID: userID})
	if err != nil {
		return fmt.Errorf("encode restore message: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		return fmt.Errorf("publish restore message: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "subscription upgraded", "user_id", userID)
	}
	return nil
}
