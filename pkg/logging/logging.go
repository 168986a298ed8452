// Package logging builds the root zap logger for civic-engine.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns the root logger for the given environment.
// "local" gets human-readable console output; everything else gets
// production JSON with sampling disabled so import error lines are never dropped.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
