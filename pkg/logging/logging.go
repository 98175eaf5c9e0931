// Package logging builds the console logger shared by the binaries.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared console logger writing to stdout, errors to stderr.
func New(name string, verbose bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	conf := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		DisableCaller:     !verbose,
		DisableStacktrace: true,
		Encoding:          "console",
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "M",
			LevelKey:       "L",
			TimeKey:        "T",
			NameKey:        "N",
			CallerKey:      "C",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
	}
	lg, err := conf.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return lg.Named(name).Sugar()
}

// Nop discards everything; used by tests and library callers that pass no logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
