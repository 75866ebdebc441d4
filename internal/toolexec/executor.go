// Package toolexec runs external scanning tools as short-lived containers.
// Output is captured into a bounded buffer so a chatty tool cannot exhaust
// worker memory, and every run carries a hard wall-clock timeout.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

// boundedBuffer collects writes up to a byte cap and silently discards the
// rest. Truncation is expected behavior, not an error.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return n, nil
	}
	if n > remaining {
		b.truncated = true
		p = p[:remaining]
	}
	b.buf.Write(p)
	return n, nil
}

// Executor is the docker-backed schemas.ToolExecutor.
type Executor struct {
	binary     string
	scratchDir string
	timeout    time.Duration
	maxOutput  int
	extraArgs  []string
	log        *zap.Logger
}

// New prepares an executor. The scratch directory is created eagerly so the
// first stage does not fail on a missing bind mount source.
func New(cfg config.ScannerConfig, logger *zap.Logger) (*Executor, error) {
	scratch, err := filepath.Abs(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &Executor{
		binary:     "docker",
		scratchDir: scratch,
		timeout:    cfg.StageTimeout,
		maxOutput:  cfg.MaxOutputBytes,
		log:        logger.Named("toolexec"),
	}, nil
}

// ScratchDir returns the host directory mounted into tool containers at
// /scans.
func (e *Executor) ScratchDir() string { return e.scratchDir }

// Run executes one tool container and returns its combined stdout/stderr,
// truncated to the configured cap. A non-zero exit code is not an error:
// scanners routinely exit non-zero when they find something. A hard timeout
// likewise returns whatever was captured. The only error cases are a
// cancelled parent context and a tool that could not be started at all.
func (e *Executor) Run(ctx context.Context, image string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dockerArgs := append([]string{
		"run", "--rm",
		"-v", e.scratchDir + ":/scans",
	}, e.extraArgs...)
	dockerArgs = append(dockerArgs, image)
	dockerArgs = append(dockerArgs, args...)

	out := &boundedBuffer{limit: e.maxOutput}
	cmd := exec.CommandContext(runCtx, e.binary, dockerArgs...)
	cmd.Stdout = out
	cmd.Stderr = out

	e.log.Debug("Running tool", zap.String("image", image), zap.Strings("args", args))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		// Parent cancellation, typically a terminated job. Propagate so the
		// pipeline stops instead of treating this as a tool result.
		return out.buf.String(), ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		e.log.Warn("Tool hit stage timeout, keeping partial output",
			zap.String("image", image), zap.Duration("elapsed", elapsed))
		return out.buf.String(), nil
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.log.Debug("Tool exited non-zero",
				zap.String("image", image), zap.Int("code", exitErr.ExitCode()))
			return out.buf.String(), nil
		}
		return "", fmt.Errorf("failed to run %s: %w", image, err)
	}

	if out.truncated {
		e.log.Warn("Tool output truncated",
			zap.String("image", image), zap.Int("cap_bytes", e.maxOutput))
	}
	e.log.Debug("Tool finished",
		zap.String("image", image), zap.Duration("elapsed", elapsed),
		zap.Int("output_bytes", out.buf.Len()))
	return out.buf.String(), nil
}
