package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/core"
	"github.com/arcovabio/annex/internal/data"
	"github.com/arcovabio/annex/internal/domain/model"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// RequestWorkerOptions groups dependencies for RequestWorker.
type RequestWorkerOptions struct {
	Queue      core.Queue                // Required: submission queue
	Repo       core.AnnotationRepository // Required: job record store
	Blobs      core.BlobStore            // Required: hot object storage
	Tasks      core.TaskRunner           // Required: annotation task launcher
	Completion *CompletionService        // Required: invoked when tasks finish
	Worker     config.WorkerConfig       // Polling knobs
	Request    config.RequestWorkerConfig
	Logger     *slog.Logger // Optional: structured logger
	Metrics    statsd.Sink  // Optional: metrics sink (StatsD-compatible)
}

// RequestWorker consumes submission messages and moves jobs
// PENDING -> RUNNING: it records the job, stages the input locally,
// starts the annotation task, and hands the task's completion off to
// the CompletionService.
//
// Known gap: once the message is acknowledged there is no compensation
// path if the task dies without producing a result. The record stays
// RUNNING; the start is logged so stuck jobs can be found.
type RequestWorker struct {
	queue      core.Queue
	repo       core.AnnotationRepository
	blobs      core.BlobStore
	tasks      core.TaskRunner
	completion *CompletionService
	staging    string
	logger     *slog.Logger

	poller *Poller
	wg     sync.WaitGroup
}

// NewRequestWorker constructs a new RequestWorker.
func NewRequestWorker(opts RequestWorkerOptions) (*RequestWorker, error) {
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Repo == nil {
		return nil, errors.New("AnnotationRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRunner is required")
	}
	if opts.Completion == nil {
		return nil, errors.New("CompletionService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "request_worker")
	}

	w := &RequestWorker{
		queue:      opts.Queue,
		repo:       opts.Repo,
		blobs:      opts.Blobs,
		tasks:      opts.Tasks,
		completion: opts.Completion,
		staging:    opts.Request.StagingDir,
		logger:     logger,
	}

	poller, err := NewPoller(PollerOptions{
		Name:    "request_worker",
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

// Run polls the submission queue until the context is cancelled, then
// waits for in-flight completion dispatches to settle.
func (w *RequestWorker) Run(ctx context.Context) error {
	err := w.poller.Run(ctx)
	w.wg.Wait()
	return err
}

func (w *RequestWorker) handleMessage(ctx context.Context, msg core.Message) Disposition {
	var sub model.SubmissionMessage
	if err := model.DecodePayload(msg.Body, &sub); err != nil {
		return Drop(err)
	}
	if err := sub.Validate(); err != nil {
		return Drop(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submission"))
	}
	if filepath.Base(sub.InputFileName) != sub.InputFileName {
		return Drop(apperrors.ValidationField("input_file_name", "must be a bare file name"))
	}

	if err := w.repo.Create(ctx, sub.Record()); err != nil {
		if errors.Is(err, data.ErrJobActive) {
			// Duplicate delivery for a job already picked up.
			if w.logger != nil {
				w.logger.InfoContext(ctx, "duplicate submission for active job",
					"job_id", sub.JobID)
			}
			return Ack()
		}
		return Classify(err)
	}

	inputPath, err := w.stageInput(ctx, &sub)
	if err != nil {
		return Retry(fmt.Errorf("stage input: %w", err))
	}

	handle, err := w.tasks.Start(ctx, core.StartTaskParams{
		JobID:     sub.JobID,
		InputPath: inputPath,
	})
	if err != nil {
		return Retry(fmt.Errorf("start task: %w", err))
	}

	err = w.repo.Transition(ctx, sub.JobID, model.JobStatusPending, model.JobStatusRunning,
		model.AnnotationUpdate{})
	switch {
	case err == nil:
	case apperrors.IsConflict(err):
		// A concurrent duplicate already advanced the record. Both tasks
		// produce the same artifacts; completion handling is idempotent.
		if w.logger != nil {
			w.logger.WarnContext(ctx, "job already running", "job_id", sub.JobID)
		}
	default:
		return Classify(err)
	}

	if w.logger != nil {
		w.logger.InfoContext(ctx, "annotation job running",
			"job_id", sub.JobID,
			"user_id", sub.UserID,
			"input", inputPath)
	}

	w.wg.Add(1)
	go w.awaitCompletion(ctx, handle)

	return Ack()
}

// stageInput downloads the submitted input into a per-job directory.
func (w *RequestWorker) stageInput(ctx context.Context, sub *model.SubmissionMessage) (string, error) {
	dir := filepath.Join(w.staging, sub.JobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	body, err := w.blobs.Get(ctx, sub.InputBucket, sub.InputKey)
	if err != nil {
		return "", err
	}
	defer body.Close() //nolint:errcheck // read-only stream

	inputPath := filepath.Join(dir, sub.InputFileName)
	f, err := os.Create(inputPath) // #nosec G304 - path built from validated fields under the staging dir
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close() //nolint:errcheck,gosec // write already failed
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return inputPath, nil
}

// awaitCompletion blocks on the task handle and feeds the outcome to
// the completion service. Errors are terminal for the job and are
// logged inside HandleResult.
func (w *RequestWorker) awaitCompletion(ctx context.Context, handle core.TaskHandle) {
	defer w.wg.Done()

	select {
	case res := <-handle.Done():
		_ = w.completion.HandleResult(ctx, res)
	case <-ctx.Done():
		// Shutdown kills the task process; its result is lost.
	}
}
