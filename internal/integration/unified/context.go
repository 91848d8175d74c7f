// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"sync"

	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/sirupsen/logrus"
)

// ctxKey is used to define keys for values stored in context.Context objects.
type ctxKey string

const (
	// testStateKey is used to store the state of the running test.
	testStateKey ctxKey = "test-state"
)

// failPoint records a fail point enabled by a test so it can be disabled during cleanup. If host is non-empty, the
// fail point was set on that server specifically.
type failPoint struct {
	name     string
	clientID string
	host     string
}

// testState holds everything that lives for the duration of one test case.
type testState struct {
	entities   *EntityMap
	deployment *mtest.Deployment
	opts       *Options
	log        logrus.FieldLogger

	// reduceHeartbeat is set when the test contains a fail point operation. Clients created for the test then use a
	// short heartbeat so failover is observed quickly.
	reduceHeartbeat bool
	loopSeen        bool

	fpMu       sync.Mutex
	failPoints []failPoint
}

func newTestState(opts *Options, log logrus.FieldLogger) *testState {
	return &testState{
		entities:   newEntityMap(),
		deployment: opts.Deployment,
		opts:       opts,
		log:        log,
	}
}

func (ts *testState) addFailPoint(fp failPoint) {
	ts.fpMu.Lock()
	defer ts.fpMu.Unlock()

	ts.failPoints = append(ts.failPoints, fp)
}

func (ts *testState) registeredFailPoints() []failPoint {
	ts.fpMu.Lock()
	defer ts.fpMu.Unlock()

	return append([]failPoint(nil), ts.failPoints...)
}

// newTestContext creates a new Context derived from ctx carrying the state of one test.
func newTestContext(ctx context.Context, ts *testState) context.Context {
	return context.WithValue(ctx, testStateKey, ts)
}

func stateOf(ctx context.Context) *testState {
	return ctx.Value(testStateKey).(*testState)
}

// entities returns the EntityMap stored in ctx.
func entities(ctx context.Context) *EntityMap {
	return stateOf(ctx).entities
}

func deployment(ctx context.Context) *mtest.Deployment {
	return stateOf(ctx).deployment
}

func runnerLogger(ctx context.Context) logrus.FieldLogger {
	return stateOf(ctx).log
}

func runnerOptions(ctx context.Context) *Options {
	return stateOf(ctx).opts
}
