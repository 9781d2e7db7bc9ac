// Package shell provides a shell-based executor for running recipes.
package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// DefaultShell runs recipes.
const DefaultShell = "/bin/sh"

// DefaultWaitDelay is how long a terminated recipe may take to exit before it is killed.
const DefaultWaitDelay = 5 * time.Second

var _ ports.Executor = (*Executor)(nil)

// Executor implements ports.Executor by running recipes through a POSIX shell.
type Executor struct {
	logger    ports.Logger
	shell     string
	waitDelay time.Duration
}

// NewExecutor creates a new Executor.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{
		logger:    logger,
		shell:     DefaultShell,
		waitDelay: DefaultWaitDelay,
	}
}

// Run executes inv.Command with "sh -c" and waits for it.
// Cancelling ctx sends SIGTERM, followed by SIGKILL after the wait delay.
func (e *Executor) Run(ctx context.Context, inv domain.Invocation) domain.ExecutionResult {
	start := time.Now()

	if inv.Message != "" {
		e.logger.Info(inv.Message)
	} else if !inv.Quiet {
		e.logger.Info(inv.Command)
	}

	tail := newTailWriter(domain.StderrTailLines)
	stdout := []io.Writer{}
	stderr := []io.Writer{tail}

	var stdoutLog, stderrLog *logWriter
	if !inv.Quiet {
		stdoutLog = &logWriter{logger: e.logger, level: "info"}
		stderrLog = &logWriter{logger: e.logger, level: "warn"}
		stdout = append(stdout, stdoutLog)
		stderr = append(stderr, stderrLog)
	}
	if inv.Stdout != nil {
		stdout = append(stdout, inv.Stdout)
	}
	if inv.Stderr != nil {
		stderr = append(stderr, inv.Stderr)
	}

	cmd := exec.CommandContext(ctx, e.shell, "-c", inv.Command) //nolint:gosec // recipes are user provided
	cmd.Dir = inv.Dir
	cmd.Env = resolveEnvironment(os.Environ(), inv.Env)
	cmd.Stdout = io.MultiWriter(stdout...)
	cmd.Stderr = io.MultiWriter(stderr...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.waitDelay

	err := cmd.Run()

	if stdoutLog != nil {
		_ = stdoutLog.Close()
		_ = stderrLog.Close()
	}
	tail.Flush()

	res := domain.ExecutionResult{
		OK:         err == nil,
		Duration:   time.Since(start),
		StderrTail: tail.Lines(),
	}
	if err == nil {
		return res
	}

	res.ExitCode = exitCode(err)
	failure := zerr.Wrap(domain.ErrCommandFailed, describe(ctx, err))
	failure = zerr.With(failure, "exit_code", res.ExitCode)
	res.Err = zerr.With(failure, "target", inv.Target)
	return res
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the process was terminated by a signal.
		return exitErr.ExitCode()
	}
	return -1
}

func describe(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "interrupted: " + err.Error()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return err.Error()
	}
	return "failed to start: " + err.Error()
}

type logWriter struct {
	logger ports.Logger
	level  string
	buf    []byte
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *logWriter) Close() error {
	if len(w.buf) > 0 {
		w.logLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *logWriter) logLine(line []byte) {
	msg := strings.TrimSuffix(string(line), "\r")

	switch w.level {
	case "warn":
		w.logger.Warn(msg)
	default:
		w.logger.Info(msg)
	}
}

// resolveEnvironment overlays the recipe environment on the inherited one.
func resolveEnvironment(sysEnv []string, targetEnv map[string]string) []string {
	if len(targetEnv) == 0 {
		return sysEnv
	}

	result := make([]string, 0, len(sysEnv)+len(targetEnv))
	for _, entry := range sysEnv {
		k, _, ok := strings.Cut(entry, "=")
		if ok {
			if _, overridden := targetEnv[k]; overridden {
				continue
			}
		}
		result = append(result, entry)
	}
	for k, v := range targetEnv {
		result = append(result, k+"="+v)
	}
	return result
}
