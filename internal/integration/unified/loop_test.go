// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	noopOperation = bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "testRunner"}}
	failOperation = bson.D{{"name", "frobnicate"}, {"object", "testRunner"}}
)

func TestCreateLoopArguments(t *testing.T) {
	ops := bson.A{noopOperation}

	testCases := []struct {
		name       string
		args       bson.D
		errorsID   string
		failuresID string
		propagate  bool
	}{
		{"neither errors nor failures", bson.D{{"operations", ops}}, "errors", "errors", true},
		{"errors only", bson.D{{"operations", ops}, {"storeErrorsAsEntity", "errs"}}, "errs", "errs", false},
		{"failures only", bson.D{{"operations", ops}, {"storeFailuresAsEntity", "fails"}}, "fails", "fails", false},
		{
			"both",
			bson.D{{"operations", ops}, {"storeErrorsAsEntity", "errs"}, {"storeFailuresAsEntity", "fails"}},
			"errs",
			"fails",
			false,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			la, err := createLoopArguments(marshalDoc(t, tc.args))
			require.NoError(t, err, "createLoopArguments error")

			assert.Equal(t, tc.errorsID, la.errorsID, "errors ID mismatch")
			assert.Equal(t, tc.failuresID, la.failuresID, "failures ID mismatch")
			assert.Equal(t, tc.propagate, la.propagate, "propagate mismatch")
			assert.Len(t, la.operations, 1)
		})
	}

	t.Run("missing operations", func(t *testing.T) {
		_, err := createLoopArguments(marshalDoc(t, bson.D{{"storeErrorsAsEntity", "errors"}}))
		assert.Error(t, err)
	})
	t.Run("unrecognized option", func(t *testing.T) {
		_, err := createLoopArguments(marshalDoc(t, bson.D{{"operations", ops}, {"numThreads", 2}}))
		assert.Error(t, err)
	})
	t.Run("non-string entity IDs", func(t *testing.T) {
		keys := []string{"storeErrorsAsEntity", "storeFailuresAsEntity", "storeSuccessesAsEntity", "storeIterationsAsEntity"}
		for _, key := range keys {
			t.Run(key, func(t *testing.T) {
				var la *loopArguments
				var err error
				assert.NotPanics(t, func() {
					la, err = createLoopArguments(marshalDoc(t, bson.D{{"operations", ops}, {key, 1}}))
				})
				require.Error(t, err)
				assert.Nil(t, la)
				assert.Contains(t, err.Error(), key+" to be a string")
			})
		}
	})
}

// newLoopOperation creates a loop operation and a context whose termination fires after d.
func newLoopOperation(t *testing.T, d time.Duration, args bson.D) (context.Context, *operation) {
	t.Helper()

	termination, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)

	ctx := newTestingContext(t, NewOptions().SetTermination(termination))
	op := parseTestOperations(t, bson.D{{"name", "loop"}, {"object", "testRunner"}, {"arguments", args}})[0]
	return ctx, op
}

func TestLoop(t *testing.T) {
	t.Run("counts iterations and successes", func(t *testing.T) {
		ctx, op := newLoopOperation(t, 20*time.Millisecond, bson.D{
			{"operations", bson.A{noopOperation, noopOperation}},
			{"storeErrorsAsEntity", "errors"},
			{"storeIterationsAsEntity", "iterations"},
			{"storeSuccessesAsEntity", "successes"},
		})
		require.NoError(t, op.execute(ctx), "loop error")

		em := entities(ctx)
		iterations, err := em.Counter("iterations")
		require.NoError(t, err)
		successes, err := em.Counter("successes")
		require.NoError(t, err)
		errs, err := em.BSONArray("errors")
		require.NoError(t, err)

		assert.Greater(t, iterations, int64(0), "expected at least one iteration")
		assert.Equal(t, 2*iterations, successes, "expected two successes per iteration")
		assert.Empty(t, errs)
	})
	t.Run("failures are stored", func(t *testing.T) {
		ctx, op := newLoopOperation(t, 20*time.Millisecond, bson.D{
			{"operations", bson.A{failOperation, noopOperation}},
			{"storeFailuresAsEntity", "failures"},
			{"storeIterationsAsEntity", "iterations"},
			{"storeSuccessesAsEntity", "successes"},
		})
		require.NoError(t, op.execute(ctx), "loop error")

		em := entities(ctx)
		iterations, err := em.Counter("iterations")
		require.NoError(t, err)
		successes, err := em.Counter("successes")
		require.NoError(t, err)
		failures, err := em.BSONArray("failures")
		require.NoError(t, err)

		assert.Equal(t, int64(0), successes, "expected the rest of each iteration to be skipped")
		require.Len(t, failures, int(iterations), "expected one failure per iteration")

		doc := failures[0]
		assert.Contains(t, doc.Lookup("error").StringValue(), "frobnicate")
		_, ok := doc.Lookup("time").DoubleOK()
		assert.True(t, ok, "expected time to be a double")
	})
	t.Run("first failure is propagated", func(t *testing.T) {
		ctx, op := newLoopOperation(t, time.Minute, bson.D{
			{"operations", bson.A{failOperation}},
			{"storeIterationsAsEntity", "iterations"},
		})

		err := op.execute(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loop operation failed")

		iterations, err := entities(ctx).Counter("iterations")
		require.NoError(t, err)
		assert.Equal(t, int64(1), iterations)
	})
	t.Run("terminated before the first iteration", func(t *testing.T) {
		ctx, op := newLoopOperation(t, 0, bson.D{
			{"operations", bson.A{noopOperation}},
			{"storeErrorsAsEntity", "errors"},
			{"storeIterationsAsEntity", "iterations"},
		})
		require.NoError(t, op.execute(ctx))

		iterations, err := entities(ctx).Counter("iterations")
		require.NoError(t, err)
		assert.Equal(t, int64(0), iterations)
	})
	t.Run("second loop is rejected", func(t *testing.T) {
		ctx, op := newLoopOperation(t, 0, bson.D{{"operations", bson.A{noopOperation}}})
		require.NoError(t, op.execute(ctx))

		err := op.execute(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "more than one loop operation")
	})
	t.Run("counter entities must not exist", func(t *testing.T) {
		ctx, op := newLoopOperation(t, 0, bson.D{
			{"operations", bson.A{noopOperation}},
			{"storeIterationsAsEntity", "iterations"},
		})
		require.NoError(t, entities(ctx).addCounterEntity("iterations"))

		err := op.execute(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})
}
