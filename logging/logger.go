// Package logging builds the process zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File is the rotated log file. Empty disables file output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Stdout also writes every entry to standard output.
	Stdout bool
}

// Build creates a JSON logger writing to the rotated file and, optionally,
// stdout. The returned closer flushes and closes the file.
func Build(o Options) (*zap.Logger, io.Closer, error) {
	return build(o, os.Stdout)
}

func build(o Options, stdout zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	level := o.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		fw := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(fw), lvl))
		closer = fw
	}
	if o.Stdout || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(enc.Clone(), stdout, lvl))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
