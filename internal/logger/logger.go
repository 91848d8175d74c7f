// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger builds the logrus logger used by the runner and adapts it to the driver's LogSink interface.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/bombsimon/logrusr/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Format is the output format of a logger.
type Format string

// Supported formats.
const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Field names shared by every log line the runner emits.
const (
	FieldFile      = "file"
	FieldTest      = "test"
	FieldOperation = "operation"
	FieldPhase     = "phase"
	FieldClient    = "client"
	FieldSession   = "session"
)

// New creates a logrus logger writing to stderr with the given level and format. An empty level defaults to "info"
// and an empty format defaults to text.
func New(level string, format Format) (*logrus.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is like New but writes to out.
func NewWithWriter(out io.Writer, level string, format Format) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)

	switch Format(strings.ToLower(string(format))) {
	case "", TextFormat:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case JSONFormat:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format %q", format)
	}
	return l, nil
}

// Discard returns a logger that drops everything. It is used when no logger is configured.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// DriverSink adapts a logrus logger to options.LogSink so driver log messages flow into the runner's log output.
func DriverSink(l logrus.FieldLogger) options.LogSink {
	return logrusr.New(l).GetSink()
}

// DriverLevel converts a log level name used in test files ("debug", "info", "warn", ...) to the driver's level. The
// driver only distinguishes info and debug, so everything more verbose than info maps to debug.
func DriverLevel(level string) options.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return options.LogLevelDebug
	default:
		return options.LogLevelInfo
	}
}
