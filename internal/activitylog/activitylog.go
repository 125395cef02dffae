// Package activitylog builds the process logger: one line per entry, appended
// to the activity log file and mirrored to stderr.
package activitylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how much to log.
type Options struct {
	File  string // activity log path; empty logs to stderr only
	Level zapcore.Level
	// Quiet drops the stderr copy.
	Quiet bool
}

// New returns the logger and a close function that flushes and releases the
// activity log file.
func New(opts Options) (*zap.Logger, func(), error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05,000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.ConsoleSeparator = "  "
	enc := zapcore.NewConsoleEncoder(encCfg)

	level := zap.NewAtomicLevelAt(opts.Level)
	var cores []zapcore.Core
	closeFile := func() {}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		sink, closeSink, err := zap.Open(opts.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open activity log %s: %w", opts.File, err)
		}
		closeFile = closeSink
		cores = append(cores, zapcore.NewCore(enc, sink, level))
	}
	if !opts.Quiet || opts.File == "" {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel))
	return logger, func() {
		_ = logger.Sync()
		closeFile()
	}, nil
}

// ParseLevel converts "debug", "info", "warn" or "error"; anything else is
// info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
