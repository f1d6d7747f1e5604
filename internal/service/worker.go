// Package service implements the queue-driven workers that move
// annotation jobs through their lifecycle.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arcovabio/annex/internal/core"
	apperrors "github.com/arcovabio/annex/internal/errors"
	"github.com/arcovabio/annex/internal/observability/metrics"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// receiveBackoff is the pause after a failed Receive before the next poll.
const receiveBackoff = 2 * time.Second

// Action tells the poll loop what to do with a processed delivery.
type Action int

const (
	// ActionAck deletes the message: the work is durable.
	ActionAck Action = iota
	// ActionRetry leaves the message in place for redelivery after an
	// infrastructure failure.
	ActionRetry
	// ActionDrop deletes the message without touching any record: the
	// payload is permanently unprocessable.
	ActionDrop
	// ActionDefer hides the message until Delay has passed.
	ActionDefer
)

// Disposition is a handler's verdict on one delivery.
type Disposition struct {
	Action Action
	// Delay applies to ActionDefer only.
	Delay time.Duration
	// Err carries the failure behind ActionRetry or ActionDrop.
	Err error
}

// Ack reports the delivery as durably processed.
func Ack() Disposition { return Disposition{Action: ActionAck} }

// Drop reports the delivery as permanently unprocessable.
func Drop(err error) Disposition { return Disposition{Action: ActionDrop, Err: err} }

// Retry leaves the delivery for a later attempt.
func Retry(err error) Disposition { return Disposition{Action: ActionRetry, Err: err} }

// Defer reschedules the delivery after delay.
func Defer(delay time.Duration) Disposition {
	return Disposition{Action: ActionDefer, Delay: delay}
}

// Classify maps an error onto retry-or-drop using the error taxonomy:
// validation, conflict and not-found are data failures and drop the
// message; everything else is treated as infrastructure and retried.
func Classify(err error) Disposition {
	if apperrors.Permanent(err) {
		return Drop(err)
	}
	return Retry(err)
}

// MessageHandler processes one delivery end to end and reports what the
// loop should do with it. Handlers must be idempotent: the queue is
// at-least-once and duplicates do arrive.
type MessageHandler func(ctx context.Context, msg core.Message) Disposition

// PollerOptions groups dependencies for Poller.
type PollerOptions struct {
	Name    string           // Required: worker name for logs and metrics
	Queue   core.Queue       // Required: source queue
	Handler MessageHandler   // Required: per-message handler
	Batch   int              // Optional: receive batch size (default 1)
	Wait    time.Duration    // Optional: long-poll wait (default 10s)
	Logger  *slog.Logger     // Optional: structured logger
	Metrics statsd.Sink      // Optional: metrics sink (StatsD-compatible)
}

// Poller drives a MessageHandler from a queue until the context is
// cancelled. It owns acknowledgment: handlers decide, the poller acts.
type Poller struct {
	name    string
	queue   core.Queue
	handler MessageHandler
	batch   int
	wait    time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewPoller constructs a Poller.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Name == "" {
		return nil, errors.New("worker name is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("MessageHandler is required")
	}

	batch := opts.Batch
	if batch < 1 {
		batch = 1
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", opts.Name)
	}

	return &Poller{
		name:    opts.Name,
		queue:   opts.Queue,
		handler: opts.Handler,
		batch:   batch,
		wait:    wait,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run polls until the context is cancelled. Returns nil on graceful
// shutdown (context.Canceled), error otherwise.
func (p *Poller) Run(ctx context.Context) error {
	if p.logger != nil {
		p.logger.InfoContext(ctx, "starting worker", "wait", p.wait, "batch", p.batch)
	}

	for {
		if err := ctx.Err(); err != nil {
			if p.logger != nil {
				p.logger.InfoContext(ctx, "worker stopping", "reason", err)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		msgs, err := p.queue.Receive(ctx, p.batch, p.wait)
		if err != nil {
			if isContextCancellation(err) {
				continue
			}
			if p.logger != nil {
				p.logger.ErrorContext(ctx, "receive failed", "error", err)
			}
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range msgs {
			p.process(ctx, msg)
		}
	}
}

func (p *Poller) process(ctx context.Context, msg core.Message) {
	start := time.Now()
	disp := p.handler(ctx, msg)
	elapsed := time.Since(start)

	result := metrics.ResultSuccess
	switch disp.Action {
	case ActionAck:
		if err := p.queue.Delete(ctx, msg.Token); err != nil && p.logger != nil {
			// The transition is durable; the duplicate redelivery is
			// absorbed by idempotent handling.
			p.logger.WarnContext(ctx, "ack failed, expecting duplicate delivery", "error", err)
		}

	case ActionDrop:
		result = metrics.ResultDropped
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "dropping unprocessable message", "error", disp.Err)
		}
		if err := p.queue.Delete(ctx, msg.Token); err != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "drop failed, message will redeliver", "error", err)
		}

	case ActionRetry:
		result = metrics.ResultError
		if p.logger != nil && !isContextCancellation(disp.Err) {
			p.logger.ErrorContext(ctx, "processing failed, leaving message for redelivery",
				"error", disp.Err)
		}

	case ActionDefer:
		result = metrics.ResultSkipped
		if err := p.queue.Defer(ctx, msg.Token, disp.Delay); err != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "defer failed, message will redeliver early", "error", err)
		}
	}

	metrics.EmitWorkerMessage(p.metrics, metrics.WorkerMetric{
		Worker:   p.name,
		Result:   result,
		Duration: elapsed,
		Err:      disp.Err,
	})
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
