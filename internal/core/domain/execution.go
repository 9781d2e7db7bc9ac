package domain

import (
	"io"
	"time"
)

// Invocation describes one recipe run.
type Invocation struct {
	// Target is the key being built, used for logging.
	Target string
	// Command is the fully expanded shell command.
	Command string
	// Message is printed instead of Command when set.
	Message string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env overlays the inherited environment.
	Env map[string]string
	// Quiet suppresses forwarding of command output to the log.
	Quiet bool
	// Stdout and Stderr receive the process output in addition to the log. Either may be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// ExecutionResult is what an executor reports back for an Invocation.
type ExecutionResult struct {
	OK       bool
	ExitCode int
	Duration time.Duration
	// StderrTail holds the last lines the command wrote to stderr.
	StderrTail []string
	// Err explains a failure. It is nil when OK is true.
	Err error
}
