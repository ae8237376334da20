// Package observability provides the process-wide loggers used by the CLI
// and the status server.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger for operator-facing command output. It writes
// human-readable console lines to stderr so stdout stays reserved for
// machine-readable command output.
var CLILogger = newCLILogger(zapcore.InfoLevel)

func newCLILogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		// Console config above is static; Build only fails on programmer error.
		panic(err)
	}
	return logger
}

// EnableVerbose lowers the CLI logger to debug level.
func EnableVerbose() {
	CLILogger = newCLILogger(zapcore.DebugLevel)
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	_ = CLILogger.Sync()
}
