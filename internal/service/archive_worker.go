package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// ArchiveWorkerOptions groups dependencies for ArchiveWorker.
type ArchiveWorkerOptions struct {
	Queue    core.Queue                // Required: archive-eligibility queue
	Repo     core.AnnotationRepository // Required: job record store
	Profiles core.ProfileService       // Required: fresh (uncached) profile reads
	Blobs    core.BlobStore            // Required: hot object storage
	Cold     core.ColdArchive          // Required: cold storage tier
	Worker   config.WorkerConfig       // Polling knobs
	Archive  config.ArchiveWorkerConfig
	Logger   *slog.Logger // Optional: structured logger
	Metrics  statsd.Sink  // Optional: metrics sink (StatsD-compatible)
}

// ArchiveWorker migrates free-tier results to the cold tier once the
// grace period after completion has elapsed. Deliveries that arrive
// early are deferred rather than deleted, so the message only leaves
// the queue once its job has been either migrated or ruled out.
type ArchiveWorker struct {
	repo     core.AnnotationRepository
	profiles core.ProfileService
	blobs    core.BlobStore
	cold     core.ColdArchive
	grace    time.Duration
	logger   *slog.Logger

	poller *Poller
}

// NewArchiveWorker constructs a new ArchiveWorker.
func NewArchiveWorker(opts ArchiveWorkerOptions) (*ArchiveWorker, error) {
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Repo == nil {
		return nil, errors.New("AnnotationRepository is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("ProfileService is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Cold == nil {
		return nil, errors.New("ColdArchive is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "archive_worker")
	}

	w := &ArchiveWorker{
		repo:     opts.Repo,
		profiles: opts.Profiles,
		blobs:    opts.Blobs,
		cold:     opts.Cold,
		grace:    opts.Archive.GracePeriod,
		logger:   logger,
	}

	poller, err := NewPoller(PollerOptions{
		Name:    "archive_worker",
		Queue:   opts.Queue,
		Handler: w.handleMessage,
		Batch:   opts.Worker.BatchSize,
		Wait:    opts.Worker.PollWait,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	w.poller = poller
	return w, nil
}

// Run polls the archive queue until the context is cancelled.
func (w *ArchiveWorker) Run(ctx context.Context) error {
	return w.poller.Run(ctx)
}

func (w *ArchiveWorker) handleMessage(ctx context.Context, msg core.Message) Disposition {
	var am model.ArchiveMessage
	if err := model.DecodePayload(msg.Body, &am); err != nil {
		return Drop(err)
	}
	if err := am.Validate(); err != nil {
		return Drop(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid archive message"))
	}

	// The grace period runs from completion, not from delivery.
	if remaining := w.grace - time.Since(am.CompleteTime); remaining > 0 {
		if w.logger != nil {
			w.logger.DebugContext(ctx, "grace period not elapsed, deferring",
				"job_id", am.JobID, "remaining", remaining)
		}
		return Defer(remaining)
	}

	rec, err := w.repo.GetByID(ctx, am.JobID)
	if err != nil {
		return Classify(err)
	}

	if rec.Status != model.JobStatusCompleted {
		return Drop(apperrors.Conflictf("job %s is %s, not %s",
			rec.ID, rec.Status, model.JobStatusCompleted))
	}
	if rec.ArchiveStatus != model.ArchiveStatusNone {
		// Duplicate delivery: an earlier attempt already migrated it.
		return Ack()
	}
	if rec.ResultKey == nil || rec.ResultBucket == nil {
		return Drop(apperrors.Validationf("job %s has no result to archive", rec.ID))
	}

	// Re-check the tier at migration time. An upgrade during the grace
	// period keeps the result hot.
	profile, err := w.profiles.GetProfile(ctx, rec.UserID)
	if err != nil {
		return Classify(fmt.Errorf("load profile: %w", err))
	}
	if !profile.FreeTier() {
		if w.logger != nil {
			w.logger.InfoContext(ctx, "user upgraded, keeping result hot",
				"job_id", rec.ID, "user_id", rec.UserID)
		}
		return Ack()
	}

	if err := w.migrate(ctx, rec); err != nil {
		return Classify(err)
	}
	return Ack()
}

// migrate streams the hot result into the cold tier, records the
// archive id, and removes the hot copy.
func (w *ArchiveWorker) migrate(ctx context.Context, rec *model.AnnotationJob) error {
	body, err := w.blobs.Get(ctx, *rec.ResultBucket, *rec.ResultKey)
	if err != nil {
		return fmt.Errorf("read hot result: %w", err)
	}
	defer body.Close() //nolint:errcheck // read-only stream

	// The job id rides along as the archive description so the thaw
	// worker can find its way back without any side channel.
	archiveID, err := w.cold.Store(ctx, rec.ID, body)
	if err != nil {
		return fmt.Errorf("store cold archive: %w", err)
	}

	archived := model.ArchiveStatusArchived
	err = w.repo.Update(ctx, rec.ID, model.AnnotationUpdate{
		ArchiveID:     &archiveID,
		ArchiveStatus: &archived,
	})
	if err != nil {
		// The cold copy is orphaned until redelivery retries; storing
		// twice wastes space but loses nothing.
		return fmt.Errorf("record archive id: %w", err)
	}

	if err := w.blobs.Delete(ctx, *rec.ResultBucket, *rec.ResultKey); err != nil {
		if w.logger != nil {
			w.logger.WarnContext(ctx, "hot copy delete failed",
				"job_id", rec.ID, "key", *rec.ResultKey, "error", err)
		}
	}

	if w.logger != nil {
		w.logger.InfoContext(ctx, "result archived",
			"job_id", rec.ID,
			"user_id", rec.UserID,
			"archive_id", archiveID)
	}
	return nil
}
