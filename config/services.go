package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeRequestWorker consumes submissions and launches
	// annotation tasks. Completion handling runs in the same process.
	ServiceModeRequestWorker ServiceMode = "request-worker"
	// ServiceModeArchiveWorker migrates free-tier results to cold storage.
	ServiceModeArchiveWorker ServiceMode = "archive-worker"
	// ServiceModeRestoreWorker initiates retrievals on subscription upgrade.
	ServiceModeRestoreWorker ServiceMode = "restore-worker"
	// ServiceModeThawWorker copies retrieved results back to hot storage.
	ServiceModeThawWorker ServiceMode = "thaw-worker"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeRequestWorker,
		ServiceModeArchiveWorker,
		ServiceModeRestoreWorker,
		ServiceModeThawWorker,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRequestWorker,
			ServiceModeArchiveWorker,
			ServiceModeRestoreWorker,
			ServiceModeThawWorker:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: request-worker, archive-worker, restore-worker, thaw-worker)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains the queue polling knobs shared by all workers.
type WorkerConfig struct {
	// PollWait is the long-poll wait per receive call.
	PollWait time.Duration `env:"WORKER_POLL_WAIT" envDefault:"10s"`

	// BatchSize is the maximum number of messages per receive call.
	BatchSize int `env:"WORKER_BATCH_SIZE" envDefault:"1"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollWait <= 0 {
		w.PollWait = 10 * time.Second
	}
	// Long-poll waits beyond 20s are rejected by the queue service.
	if w.PollWait > 20*time.Second {
		w.PollWait = 20 * time.Second
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.BatchSize > 10 {
		w.BatchSize = 10
	}
}

// RequestWorkerConfig contains request worker service configuration.
type RequestWorkerConfig struct {
	// StagingDir is the local directory where inputs are downloaded and
	// the annotation tool writes its outputs.
	StagingDir string `env:"REQUEST_STAGING_DIR" envDefault:"/tmp/annex"`

	// ToolCommand is the annotation tool executable.
	ToolCommand string `env:"REQUEST_TOOL_COMMAND" envDefault:"annotate"`

	// ToolArgs are extra arguments placed before the input path,
	// comma-delimited.
	ToolArgs []string `env:"REQUEST_TOOL_ARGS" envDefault:""`
}

// Sanitize applies guardrails to request worker configuration values.
func (r *RequestWorkerConfig) Sanitize() {
	r.StagingDir = strings.TrimSpace(r.StagingDir)
	if r.StagingDir == "" {
		r.StagingDir = "/tmp/annex"
	}
	r.ToolCommand = strings.TrimSpace(r.ToolCommand)
}

// ArchiveWorkerConfig contains archive worker service configuration.
type ArchiveWorkerConfig struct {
	// GracePeriod is how long a completed result stays in hot storage
	// before a free-tier job becomes eligible for cold migration.
	GracePeriod time.Duration `env:"ARCHIVE_GRACE_PERIOD" envDefault:"1h"`
}

// Sanitize applies guardrails to archive worker configuration values.
func (a *ArchiveWorkerConfig) Sanitize() {
	if a.GracePeriod < 0 {
		a.GracePeriod = 0
	}
}
