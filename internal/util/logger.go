package util

import "go.uber.org/zap"

// NewLogger returns a zap logger. When verbose is true, uses development
// config (human-readable, debug level); otherwise production config (JSON,
// info level).
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
