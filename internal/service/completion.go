package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/metrics"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// ObjectKey builds the object key for a user-owned artifact:
// <namespace>/<user id>/<artifact>.
func ObjectKey(namespace, userID, artifact string) string {
	return path.Join(namespace, userID, artifact)
}

// CompletionServiceOptions groups dependencies for CompletionService.
type CompletionServiceOptions struct {
	Repo      core.AnnotationRepository // Required: job record store
	Profiles  core.ProfileService       // Required: fresh (uncached) profile reads
	Blobs     core.BlobStore            // Required: hot object storage
	Publisher core.Publisher            // Required: topic fan-out
	AWS       config.AWSConfig          // Required: buckets, topics, key namespace
	Logger    *slog.Logger              // Optional: structured logger
	Metrics   statsd.Sink               // Optional: metrics sink (StatsD-compatible)

	// NoticeProfiles, when set, serves the display fields on the
	// completion notice. A cached decorator is fine here; tier decisions
	// always go through Profiles.
	NoticeProfiles core.ProfileService
}

// CompletionService finishes jobs whose annotation task has exited:
// uploads the result and log artifacts, advances the record to
// COMPLETED, queues free-tier results for archival, and publishes the
// completion notice. Failures here are terminal per job: there is no
// queue message left to redeliver, so everything is logged and dropped.
type CompletionService struct {
	repo           core.AnnotationRepository
	profiles       core.ProfileService
	noticeProfiles core.ProfileService
	blobs          core.BlobStore
	publisher      core.Publisher
	aws            config.AWSConfig
	logger         *slog.Logger
	metrics        statsd.Sink
}

// NewCompletionService constructs a new CompletionService.
func NewCompletionService(opts CompletionServiceOptions) (*CompletionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AnnotationRepository is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("ProfileService is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("Publisher is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "completion_service")
	}

	return &CompletionService{
		repo:           opts.Repo,
		profiles:       opts.Profiles,
		noticeProfiles: opts.NoticeProfiles,
		blobs:          opts.Blobs,
		publisher:      opts.Publisher,
		aws:            opts.AWS,
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// HandleResult processes one finished annotation task.
func (s *CompletionService) HandleResult(ctx context.Context, res core.TaskResult) error {
	err := s.handleResult(ctx, res)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "completion failed",
				"job_id", res.JobID, "error", err)
		}
	}
	metrics.EmitWorkerMessage(s.metrics, metrics.WorkerMetric{
		Worker: "completion",
		Result: result,
		Err:    err,
	})
	return err
}

func (s *CompletionService) handleResult(ctx context.Context, res core.TaskResult) error {
	if res.Err != nil {
		// The task itself failed. The record stays RUNNING; there is no
		// retry path once the submission message is gone.
		return fmt.Errorf("annotation task failed: %w", res.Err)
	}

	rec, err := s.repo.GetByID(ctx, res.JobID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	resultKey := ObjectKey(s.aws.KeyNamespace, rec.UserID, filepath.Base(res.ResultPath))
	logKey := ObjectKey(s.aws.KeyNamespace, rec.UserID, filepath.Base(res.LogPath))

	if err := s.uploadFile(ctx, res.ResultPath, resultKey); err != nil {
		return fmt.Errorf("upload result: %w", err)
	}
	if err := s.uploadFile(ctx, res.LogPath, logKey); err != nil {
		return fmt.Errorf("upload log: %w", err)
	}

	completeTime := res.FinishedAt
	resultBucket := s.aws.ResultBucket
	err = s.repo.Transition(ctx, rec.ID, model.JobStatusRunning, model.JobStatusCompleted,
		model.AnnotationUpdate{
			CompleteTime: &completeTime,
			ResultBucket: &resultBucket,
			ResultKey:    &resultKey,
			LogKey:       &logKey,
		})
	switch {
	case err == nil:
	case apperrors.IsConflict(err):
		// Already COMPLETED by an earlier attempt.
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job already completed", "job_id", rec.ID)
		}
		s.cleanupStaging(ctx, res)
		return nil
	default:
		return fmt.Errorf("mark completed: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job completed",
			"job_id", rec.ID,
			"user_id", rec.UserID,
			"result_key", resultKey)
	}

	// Tier decisions take a fresh read so an upgrade between submission
	// and completion is honored.
	profile, err := s.profiles.GetProfile(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	if profile.FreeTier() {
		if err := s.publishArchiveEligible(ctx, rec, resultBucket, resultKey, completeTime); err != nil {
			return err
		}
	}

	if err := s.publishCompletionNotice(ctx, rec, profile); err != nil {
		return err
	}

	s.cleanupStaging(ctx, res)
	return nil
}

func (s *CompletionService) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	return s.blobs.Put(ctx, s.aws.ResultBucket, key, f)
}

func (s *CompletionService) publishArchiveEligible(
	ctx context.Context,
	rec *model.AnnotationJob,
	bucket, key string,
	completeTime time.Time,
) error {
	payload, err := json.Marshal(model.ArchiveMessage{
		JobID:        rec.ID,
		UserID:       rec.UserID,
		ResultBucket: bucket,
		ResultKey:    key,
		CompleteTime: completeTime,
	})
	if err != nil {
		return fmt.Errorf("encode archive message: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.aws.ArchiveTopic, payload); err != nil {
		return fmt.Errorf("publish archive message: %w", err)
	}
	return nil
}

func (s *CompletionService) publishCompletionNotice(
	ctx context.Context,
	rec *model.AnnotationJob,
	profile *model.UserProfile,
) error {
	if s.noticeProfiles != nil {
		if cached, err := s.noticeProfiles.GetProfile(ctx, rec.UserID); err == nil {
			profile = cached
		}
	}
	payload, err := json.Marshal(model.CompletionNotice{
		JobID:     rec.ID,
		UserName:  profile.Name,
		UserEmail: profile.Email,
		UserRole:  string(profile.Role),
	})
	if err != nil {
		return fmt.Errorf("encode completion notice: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.aws.CompletionTopic, payload); err != nil {
		return fmt.Errorf("publish completion notice: %w", err)
	}
	return nil
}

// cleanupStaging removes the per-job staging directory once its
// artifacts are uploaded.
func (s *CompletionService) cleanupStaging(ctx context.Context, res core.TaskResult) {
	dir := filepath.Dir(res.ResultPath)
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return
	}
	if err := os.RemoveAll(dir); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "staging cleanup failed", "dir", dir, "error", err)
	}
}
