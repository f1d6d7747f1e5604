package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// ThawWorkerOptions groups dependencies for ThawWorker.
type ThawWorkerOptions struct {
	Queue   core.Queue                // Required: retrieval-ready queue
	Repo    core.AnnotationRepository // Required: job record store
	Blobs   core.BlobStore            // Required: hot object storage
	Cold    core.ColdArchive          // Required: cold storage tier
	Worker  config.WorkerConfig       // Polling knobs
	Logger  *slog.Logger              // Optional: structured logger
	Metrics statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// ThawWorker finishes a restore: when the cold tier announces a ready
// retrieval, it streams the bytes back to the job's original hot
// location, deletes the cold copy, and clears the archive fields. The
// job id is recovered from the archive description written at
// migration time.
type ThawWorker struct {
	repo   core.AnnotationRepository
	blobs  core.BlobStore
	cold   core.ColdArchive
	logger *slog.Logger

	poller *Poller
}

// NewThawWorker constructs a new ThawWorker.
func NewThawWorker(opts ThawWorkerOptions) (*ThawWorker, error) {
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Repo == nil {
		return nil, errors.New("AnnotationRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Cold == nil {
		return nil, errors.New("ColdArchive is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "thaw_worker")
	}

	w := &ThawWorker{
		repo:   opts.Repo,
		blobs:  opts.Blobs,
		cold:   opts.Cold,
		logger: logger,
	}

	poller, err := NewPoller(PollerOptions{
		Name:    "thaw_worker",
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

// Run polls the thaw queue until the context is cancelled.
func (w *ThawWorker) Run(ctx context.Context) error {
	return w.poller.Run(ctx)
}

func (w *ThawWorker) handleMessage(ctx context.Context, msg core.Message) Disposition {
	var tm model.ThawMessage
	if err := model.DecodePayload(msg.Body, &tm); err != nil {
		return Drop(err)
	}
	if err := tm.Validate(); err != nil {
		return Drop(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid thaw message"))
	}

	retrieval, err := w.cold.RetrievalOutput(ctx, tm.RetrievalID)
	if err != nil {
		return Classify(fmt.Errorf("open retrieval output: %w", err))
	}
	defer retrieval.Body.Close() //nolint:errcheck // read-only stream

	jobID := retrieval.Description
	if jobID == "" {
		return Drop(apperrors.Validationf("retrieval %s carries no job id", tm.RetrievalID))
	}

	rec, err := w.repo.GetByID(ctx, jobID)
	if err != nil {
		return Classify(err)
	}

	if rec.ArchiveStatus == model.ArchiveStatusNone {
		// Duplicate delivery: an earlier attempt already thawed it.
		return Ack()
	}
	if rec.ResultBucket == nil || rec.ResultKey == nil {
		return Drop(apperrors.Validationf("job %s has no result location", rec.ID))
	}

	if err := w.blobs.Put(ctx, *rec.ResultBucket, *rec.ResultKey, retrieval.Body); err != nil {
		return Classify(fmt.Errorf("write hot result: %w", err))
	}

	if err := w.cold.Delete(ctx, tm.ArchiveID); err != nil {
		// Orphaned cold copy only; the hot copy is already back.
		if w.logger != nil {
			w.logger.WarnContext(ctx, "cold copy delete failed",
				"job_id", rec.ID, "archive_id", tm.ArchiveID, "error", err)
		}
	}

	if err := w.repo.Update(ctx, rec.ID, model.AnnotationUpdate{ClearArchive: true}); err != nil {
		return Classify(fmt.Errorf("clear archive fields: %w", err))
	}

	if w.logger != nil {
		w.logger.InfoContext(ctx, "result thawed",
			"job_id", rec.ID,
			"user_id", rec.UserID,
			"key", *rec.ResultKey)
	}
	return Ack()
}
