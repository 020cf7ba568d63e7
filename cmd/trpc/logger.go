// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a logger writing to stderr at the given level and format.
func newLogger(levelName, formatName string) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(levelName))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format := strings.ToLower(strings.TrimSpace(formatName))
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format must be console or json, got %q", formatName)
	}
	conf := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			MessageKey:     "M",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     timeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	return conf.Build()
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}
