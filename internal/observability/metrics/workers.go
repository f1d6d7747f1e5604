// Package metrics emits standardised lifecycle metrics for the queue workers.
package metrics

import (
	"time"

	obserrors "github.com/arcovabio/annex/internal/observability/errors"
	"github.com/arcovabio/annex/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultDropped = "dropped"
)

// WorkerMetric captures details about one processed message for metric emission.
type WorkerMetric struct {
	Worker   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitWorkerMessage emits counters and timings for a single message outcome.
func EmitWorkerMessage(sink statsd.Sink, in WorkerMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"worker": in.Worker,
		"result": in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("worker.message", 1, tags)

	if in.Duration > 0 {
		sink.Timing("worker.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
