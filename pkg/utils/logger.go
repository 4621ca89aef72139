// Package utils holds small helpers shared by the fetcher and consumer
// binaries.
package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// NewSugaredLogger builds the process-wide sugared logger. Verbose selects
// zap's development config (console encoder, debug level); otherwise the
// production JSON config is used.
func NewSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	newLogger := zap.NewProduction
	if verbose {
		newLogger = zap.NewDevelopment
	}

	l, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar(), nil
}
