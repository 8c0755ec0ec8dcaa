package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger. When debug is true it uses the development
// config (console encoder, debug level); otherwise the production config
// (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewLoggerOrNop is NewLogger that falls back to a no-op logger on error.
func NewLoggerOrNop(debug bool) *zap.Logger {
	logger, err := NewLogger(debug)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
