// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeMetrics(m *Metrics) string {
	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	return buf.String()
}

func TestMetrics(t *testing.T) {
	t.Run("nil metrics record nothing", func(t *testing.T) {
		var m *Metrics

		assert.NotPanics(t, func() {
			m.observeOperation("find", time.Millisecond, false)
			m.observeTest(outcomePassed, time.Second)
		})
		assert.Empty(t, writeMetrics(m))
	})
	t.Run("operations", func(t *testing.T) {
		m := NewMetrics()
		m.observeOperation("find", time.Millisecond, false)
		m.observeOperation("find", time.Millisecond, true)
		m.observeOperation("insertOne", time.Millisecond, false)

		out := writeMetrics(m)
		assert.Contains(t, out, `unified_operations_total{name="find"} 2`)
		assert.Contains(t, out, `unified_operations_total{name="insertOne"} 1`)
		assert.Contains(t, out, `unified_operation_errors_total{name="find"} 1`)
		assert.NotContains(t, out, `unified_operation_errors_total{name="insertOne"}`)
		assert.Contains(t, out, `unified_operation_duration_seconds_bucket{name="find"`)
	})
	t.Run("tests", func(t *testing.T) {
		m := NewMetrics()
		m.observeTest(outcomePassed, time.Second)
		m.observeTest(outcomeSkipped, 0)
		m.observeTest(outcomeSkipped, 0)

		out := writeMetrics(m)
		assert.Contains(t, out, `unified_tests_total{outcome="passed"} 1`)
		assert.Contains(t, out, `unified_tests_total{outcome="skipped"} 2`)
	})
}
