// Package observability constructs the process-wide loggers.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger for engine components.
var Logger = zap.NewNop()

// CLILogger writes human-oriented output for commands.
var CLILogger = zap.NewNop()

// Init builds the loggers from the production config with console
// encoding. verbose lowers the level to debug.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	log, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = log
	CLILogger = log
	return nil
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = Logger.Sync()
	if CLILogger != Logger {
		_ = CLILogger.Sync()
	}
}
