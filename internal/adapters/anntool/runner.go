// Package anntool runs the annotation tool as a local subprocess and
// adapts it to the core TaskRunner port.
package anntool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/arcovabio/annex/internal/core"
)

// Options configures a Runner.
type Options struct {
	// Command is the annotation tool executable. The input file path is
	// passed as its single argument.
	Command string
	// Args are extra arguments placed before the input path.
	Args   []string
	Logger *slog.Logger
}

// Runner launches one subprocess per task and reports completion on the
// handle's Done channel. The tool writes its outputs next to the input:
// x.vcf produces x.annot.vcf and x.vcf.count.log.
type Runner struct {
	command string
	args    []string
	logger  *slog.Logger
}

var _ core.TaskRunner = (*Runner)(nil)

func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{command: opts.Command, args: opts.Args, logger: logger}
}

type handle struct {
	done chan core.TaskResult
}

func (h *handle) Done() <-chan core.TaskResult { return h.done }

// Start launches the tool and returns immediately. The result is
// delivered exactly once on Done when the process exits.
func (r *Runner) Start(ctx context.Context, params core.StartTaskParams) (core.TaskHandle, error) {
	args := append(append([]string{}, r.args...), params.InputPath)
	cmd := exec.CommandContext(ctx, r.command, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.command, err)
	}

	r.logger.InfoContext(ctx, "annotation task started",
		"job_id", params.JobID,
		"pid", cmd.Process.Pid,
		"input", params.InputPath)

	h := &handle{done: make(chan core.TaskResult, 1)}
	go func() {
		err := cmd.Wait()
		res := core.TaskResult{
			JobID:      params.JobID,
			FinishedAt: time.Now().UTC(),
			Err:        err,
		}
		if err == nil {
			res.ResultPath = ResultPath(params.InputPath)
			res.LogPath = LogPath(params.InputPath)
		}
		h.done <- res
	}()
	return h, nil
}

// ResultPath maps an input path to the annotated output the tool
// produces: dir/x.vcf becomes dir/x.annot.vcf.
func ResultPath(inputPath string) string {
	if base, ok := strings.CutSuffix(inputPath, ".vcf"); ok {
		return base + ".annot.vcf"
	}
	return inputPath + ".annot"
}

// LogPath maps an input path to the tool's log file: dir/x.vcf becomes
// dir/x.vcf.count.log.
func LogPath(inputPath string) string {
	return inputPath + ".count.log"
}
