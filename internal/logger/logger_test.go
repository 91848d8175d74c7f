// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewWithWriter(&buf, "debug", JSONFormat)
		require.NoError(t, err, "NewWithWriter error")

		l.WithField(FieldTest, "insertOne").Debug("running")

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "error decoding log line %q", buf.String())
		assert.Equal(t, "insertOne", line[FieldTest])
		assert.Equal(t, "running", line["msg"])
	})
	t.Run("defaults", func(t *testing.T) {
		l, err := NewWithWriter(&bytes.Buffer{}, "", "")
		require.NoError(t, err, "NewWithWriter error")
		assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	})
	t.Run("invalid level", func(t *testing.T) {
		_, err := NewWithWriter(&bytes.Buffer{}, "loud", TextFormat)
		assert.Error(t, err)
	})
	t.Run("invalid format", func(t *testing.T) {
		_, err := NewWithWriter(&bytes.Buffer{}, "info", "xml")
		assert.Error(t, err)
	})
}

func TestDriverSink(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "info", JSONFormat)
	require.NoError(t, err, "NewWithWriter error")

	DriverSink(l).Info(0, "Command started", "commandName", "ping")
	assert.Contains(t, buf.String(), "Command started")
	assert.Contains(t, buf.String(), "ping")
}

func TestDriverLevel(t *testing.T) {
	assert.Equal(t, options.LogLevelDebug, DriverLevel("debug"))
	assert.Equal(t, options.LogLevelDebug, DriverLevel("TRACE"))
	assert.Equal(t, options.LogLevelInfo, DriverLevel("warn"))
}
