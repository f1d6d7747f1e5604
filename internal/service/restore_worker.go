package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// restoreConcurrency bounds the number of in-flight retrieval
// initiations per sweep.
const restoreConcurrency = 4

// RestoreWorkerOptions groups dependencies for RestoreWorker.
type RestoreWorkerOptions struct {
	Queue   core.Queue                // Required: upgrade-trigger queue
	Repo    core.AnnotationRepository // Required: job record store
	Cold    core.ColdArchive          // Required: cold storage tier
	Worker  config.WorkerConfig       // Polling knobs
	Logger  *slog.Logger              // Optional: structured logger
	Metrics statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// RestoreWorker reacts to subscription upgrades: it sweeps the user's
// archived jobs and initiates a cold-tier retrieval for each one,
// marking them RESTORING. Retrievals are tried expedited first and fall
// back to standard exactly once; a job whose both attempts fail stays
// ARCHIVED and is logged, never blocking the rest of the sweep.
type RestoreWorker struct {
	repo   core.AnnotationRepository
	cold   core.ColdArchive
	logger *slog.Logger

	poller *Poller
}

// NewRestoreWorker constructs a new RestoreWorker.
func NewRestoreWorker(opts RestoreWorkerOptions) (*RestoreWorker, error) {
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Repo == nil {
		return nil, errors.New("AnnotationRepository is required")
	}
	if opts.Cold == nil {
		return nil, errors.New("ColdArchive is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "restore_worker")
	}

	w := &RestoreWorker{
		repo:   opts.Repo,
		cold:   opts.Cold,
		logger: logger,
	}

	poller, err := NewPoller(PollerOptions{
		Name:    "restore_worker",
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

// Run polls the restore queue until the context is cancelled.
func (w *RestoreWorker) Run(ctx context.Context) error {
	return w.poller.Run(ctx)
}

func (w *RestoreWorker) handleMessage(ctx context.Context, msg core.Message) Disposition {
	var rm model.RestoreMessage
	if err := model.DecodePayload(msg.Body, &rm); err != nil {
		return Drop(err)
	}
	if err := rm.Validate(); err != nil {
		return Drop(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid restore message"))
	}

	jobs, err := w.repo.ListByUser(ctx, rm.UserID)
	if err != nil {
		return Classify(err)
	}

	var initiated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for _, job := range jobs {
		if !job.Archived() {
			continue
		}
		job := job
		g.Go(func() error {
			if err := w.restoreJob(gctx, job); err != nil {
				// Failed initiations stay ARCHIVED and never abort the
				// rest of the sweep.
				failed.Add(1)
				if w.logger != nil {
					w.logger.ErrorContext(gctx, "restore initiation failed",
						"job_id", job.ID, "error", err)
				}
				return nil
			}
			initiated.Add(1)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	if w.logger != nil {
		w.logger.InfoContext(ctx, "restore sweep finished",
			"user_id", rm.UserID,
			"initiated", initiated.Load(),
			"failed", failed.Load())
	}

	// The trigger is acknowledged once per sweep. Jobs whose initiation
	// failed stay ARCHIVED; a later upgrade event retries them.
	return Ack()
}

// restoreJob initiates a retrieval for one archived job and marks it
// RESTORING. Expedited is tried first, standard exactly once after.
func (w *RestoreWorker) restoreJob(ctx context.Context, job *model.AnnotationJob) error {
	retrievalID, err := w.cold.InitiateRetrieval(ctx, *job.ArchiveID, core.TierExpedited)
	if err != nil {
		if w.logger != nil {
			w.logger.WarnContext(ctx, "expedited retrieval unavailable, falling back",
				"job_id", job.ID, "error", err)
		}
		retrievalID, err = w.cold.InitiateRetrieval(ctx, *job.ArchiveID, core.TierStandard)
		if err != nil {
			return err
		}
	}

	restoring := model.ArchiveStatusRestoring
	if err := w.repo.Update(ctx, job.ID, model.AnnotationUpdate{
		ArchiveStatus: &restoring,
	}); err != nil {
		return err
	}

	if w.logger != nil {
		w.logger.InfoContext(ctx, "retrieval initiated",
			"job_id", job.ID,
			"retrieval_id", retrievalID)
	}
	return nil
}
