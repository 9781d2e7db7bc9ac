// Package ports defines the core interfaces for the application.
package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// Executor runs a single recipe.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Run executes inv and waits for it to finish.
	//
	// Failures are reported through the result rather than an error: a command that
	// cannot be started has ExitCode -1, one that exits non-zero carries its exit code.
	// Cancelling ctx terminates the process.
	Run(ctx context.Context, inv domain.Invocation) domain.ExecutionResult
}
