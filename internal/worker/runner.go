// Package worker runs a documentation generator inside a job container and
// reports its progress and output back to the jobs service.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docjobs/internal/apperrors"
	"docjobs/pkg/backoff"
	"docjobs/pkg/callback"
)

// ProgressPrefix marks a generator stdout line that should be reported as
// progress, e.g. "::progress 2/5 Cloning repository".
const ProgressPrefix = "::progress "

// ErrRejected is returned when the service refuses further events for the
// job, typically because it was canceled. The generator is stopped.
var ErrRejected = errors.New("job no longer accepts events")

const (
	maxErrorBytes    = 4096
	maxProgressBytes = 1024
	callbackTimeout  = 30 * time.Second
	maxLineBytes     = 1 << 20
)

// Runner runs one generator process for one job.
type Runner struct {
	config *Config
	client *callback.Client
	logger *slog.Logger
}

// NewRunner validates cfg and creates a runner. Extra callback options are
// applied after the defaults.
func NewRunner(cfg *Config, opts ...callback.Option) (*Runner, error) {
	switch {
	case cfg.JobID == "":
		return nil, apperrors.Validation("JOB_ID", "JOB_ID is required")
	case cfg.CallbackURL == "":
		return nil, apperrors.Validation("CALLBACK_URL", "CALLBACK_URL is required")
	case cfg.CallbackToken == "":
		return nil, apperrors.Validation("CALLBACK_TOKEN", "CALLBACK_TOKEN is required")
	case len(cfg.Command) == 0:
		return nil, apperrors.Validation("GENERATOR_COMMAND", "GENERATOR_COMMAND is required")
	}
	if err := validatePath(cfg.OutputDir); err != nil {
		return nil, apperrors.Validation("OUTPUT_DIR", fmt.Sprintf("invalid OUTPUT_DIR: %v", err))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 1000
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 1 << 20
	}

	clientOpts := append([]callback.Option{
		callback.WithRetry(cfg.CallbackRetries, &backoff.Config{Initial: 500 * time.Millisecond, Max: 10 * time.Second}),
	}, opts...)

	return &Runner{
		config: cfg,
		client: callback.New(cfg.CallbackURL, cfg.JobID, cfg.CallbackToken, clientOpts...),
		logger: slog.With("component", "worker", "jobId", cfg.JobID),
	}, nil
}

// Run executes the generator and reports its outcome:
//  1. Report that generation started
//  2. Forward "::progress" lines from the generator's stdout
//  3. On success, send every file under the output directory as a complete event
//  4. On failure or timeout, send an error event
//
// A rejected callback stops the generator and returns ErrRejected.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	outDir := filepath.Join(r.config.WorkDir, r.config.OutputDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return r.fail(ctx, fmt.Errorf("create output directory: %w", err))
	}

	r.logger.Info("Worker starting", "command", r.config.Command[0], "outputDir", outDir)
	if err := r.progress(ctx, progressLine{text: "Starting documentation generation"}); err != nil {
		return err
	}

	if err := r.generate(ctx, outDir); err != nil {
		if errors.Is(err, ErrRejected) {
			return err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("generator timed out after %s", r.config.Timeout)
		}
		return r.fail(ctx, err)
	}

	files, err := collectFiles(outDir, r.config.MaxFiles, r.config.MaxFileBytes)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("collect output: %w", err))
	}

	if _, err := r.client.Complete(ctx, files); err != nil {
		if callback.IsRejected(err) {
			r.logger.Warn("Completion rejected", "error", err)
			return ErrRejected
		}
		return fmt.Errorf("report completion: %w", err)
	}

	r.logger.Info("Worker completed", "files", len(files))
	return nil
}

// generate runs the generator command, forwarding progress lines until it exits.
func (r *Runner) generate(ctx context.Context, outDir string) error {
	cmdCtx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := exec.CommandContext(cmdCtx, r.config.Command[0], r.config.Command[1:]...)
	cmd.Dir = r.config.WorkDir
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+outDir)
	stderr := &tailBuffer{limit: maxErrorBytes / 2}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach generator stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start generator: %w", err)
	}

	var rejected bool
	readErr := r.readLines(stdout, func(line string) {
		p, ok := parseProgressLine(line)
		if !ok {
			r.logger.Debug("Generator output", "line", line)
			return
		}
		if rejected {
			return
		}
		if err := r.progress(ctx, p); errors.Is(err, ErrRejected) {
			rejected = true
			stop()
		}
	})
	if readErr != nil {
		r.logger.Warn("Failed to read generator output", "error", readErr)
		_, _ = io.Copy(io.Discard, stdout)
	}

	// Wait only after stdout hits EOF.
	waitErr := cmd.Wait()
	if rejected {
		return ErrRejected
	}
	if waitErr != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return fmt.Errorf("generator failed: %w: %s", waitErr, tail)
		}
		return fmt.Errorf("generator failed: %w", waitErr)
	}
	return nil
}

// readLines calls fn for every stdout line until EOF. Lines longer than
// maxLineBytes are skipped whole.
func (r *Runner) readLines(rd io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	var (
		line    []byte
		skipped bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if !skipped {
			if len(line)+len(chunk) > maxLineBytes {
				skipped = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}

		if skipped {
			r.logger.Warn("Skipped oversized generator output line", "limit", maxLineBytes)
		} else {
			fn(string(line))
		}
		line, skipped = line[:0], false
	}
}

// progress reports p. Transient failures are logged and dropped; a rejection
// is returned as ErrRejected.
func (r *Runner) progress(ctx context.Context, p progressLine) error {
	_, err := r.client.Progress(ctx, "", p.text, p.step, p.total)
	if err == nil {
		return nil
	}
	if callback.IsRejected(err) {
		r.logger.Warn("Progress rejected", "error", err)
		return ErrRejected
	}
	r.logger.Warn("Failed to report progress", "progress", p.text, "error", err)
	return nil
}

// fail reports cause as an error event and returns it. The report uses a
// fresh deadline so a timed-out run can still be recorded.
func (r *Runner) fail(ctx context.Context, cause error) error {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()

	msg := cause.Error()
	if len(msg) > maxErrorBytes {
		msg = msg[:maxErrorBytes]
	}

	r.logger.Error("Generation failed", "error", cause)
	if _, err := r.client.Fail(reportCtx, msg); err != nil {
		r.logger.Error("Failed to report failure", "error", err)
	}
	return cause
}

type progressLine struct {
	step  int
	total int
	text  string
}

// parseProgressLine parses "::progress [step/total] text".
func parseProgressLine(line string) (progressLine, bool) {
	rest, ok := strings.CutPrefix(line, ProgressPrefix)
	if !ok {
		return progressLine{}, false
	}
	rest = strings.TrimSpace(rest)

	var p progressLine
	if head, tail, found := strings.Cut(rest, " "); found || strings.Contains(head, "/") {
		if s, t, isFrac := strings.Cut(head, "/"); isFrac {
			step, errS := strconv.Atoi(s)
			total, errT := strconv.Atoi(t)
			if errS == nil && errT == nil && step >= 0 && total >= step {
				p.step, p.total = step, total
				rest = strings.TrimSpace(tail)
			}
		}
	}
	if len(rest) > maxProgressBytes {
		rest = rest[:maxProgressBytes]
	}
	p.text = rest
	if p.text == "" {
		return progressLine{}, false
	}
	return p, true
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
