// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Test outcomes counted by Metrics.
const (
	outcomePassed  = "passed"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Metrics counts operations and test outcomes of a run. A nil *Metrics records nothing.
type Metrics struct {
	set *metrics.Set
}

// NewMetrics creates a Metrics with its own metric set.
func NewMetrics() *Metrics {
	return &Metrics{set: metrics.NewSet()}
}

func (m *Metrics) observeOperation(name string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`unified_operations_total{name=%q}`, name)).Inc()
	if failed {
		m.set.GetOrCreateCounter(fmt.Sprintf(`unified_operation_errors_total{name=%q}`, name)).Inc()
	}
	m.set.GetOrCreateHistogram(fmt.Sprintf(`unified_operation_duration_seconds{name=%q}`, name)).Update(dur.Seconds())
}

func (m *Metrics) observeTest(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`unified_tests_total{outcome=%q}`, outcome)).Inc()
	m.set.GetOrCreateHistogram(`unified_test_duration_seconds`).Update(dur.Seconds())
}

// WritePrometheus writes every recorded metric to w in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}
