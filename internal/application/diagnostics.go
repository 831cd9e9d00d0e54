package application

import (
	"fmt"
	"log/slog"

	"github.com/jobrunner/verdant/internal/domain"
)

// report writes the diagnostic for a failed core operation.
func report(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "kind", domain.ErrorKind(err), "error", err)
}

// panicError turns a recovered panic into a computation error.
func panicError(op string, r interface{}) error {
	return &domain.ComputationError{Op: op, Err: fmt.Errorf("panic: %v", r)}
}
