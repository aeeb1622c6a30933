// Package logging builds the zap loggers used by conecheck.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewConfig returns the console logger config: ISO8601 timestamps, coloured
// levels, no stacktraces, everything on stderr.
func NewConfig(debug bool) zap.Config {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// New returns a named sugared logger.
func New(name string, debug bool) (*zap.SugaredLogger, error) {
	logger, err := NewConfig(debug).Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(name).Sugar(), nil
}
