package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewCLILogger builds a console logger writing to stderr, suitable for
// cron-invoked commands where stdout carries data (CSV, JSON).
// verbose lifts the level to debug.
func NewCLILogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		// zap only fails on invalid sink paths; stderr is always valid.
		return zap.NewNop()
	}
	return logger
}

// NewPassLogger is like NewCLILogger but additionally tees log lines into a
// file under logDir, one file per invocation. Returns the plain CLI logger
// when logDir is empty or cannot be used.
func NewPassLogger(verbose bool, logDir, name string) *zap.Logger {
	if logDir == "" {
		return NewCLILogger(verbose)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr", logDir + "/" + name}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return NewCLILogger(verbose)
	}
	return logger
}
