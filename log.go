// Copyright (c) 2025 Neomantra Corp

package scsync

import "go.uber.org/zap"

// NewDefaultLogger builds the zap logger cmd/scsync uses when the caller
// doesn't supply one: production JSON encoding at info level, to stderr;
// with verbose, development console encoding at debug level.
func NewDefaultLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}
