// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"bytes"
	"testing"

	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func parseTestOperations(t *testing.T, ops ...bson.D) []*operation {
	t.Helper()

	arr := make(bson.A, 0, len(ops))
	for _, op := range ops {
		arr = append(arr, op)
	}
	doc := marshalDoc(t, bson.D{{"ops", arr}})
	parsed, err := parseOperations(doc.Lookup("ops").Array())
	require.NoError(t, err, "parseOperations error")
	return parsed
}

func TestOperationExecution(t *testing.T) {
	testCases := []struct {
		name   string
		op     bson.D
		errStr string
	}{
		{
			"unknown operation",
			bson.D{{"name", "frobnicate"}, {"object", "client0"}},
			`unrecognized operation "frobnicate"`,
		},
		{
			"test runner operation on another object",
			bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "client0"}},
			`object should be "testRunner"`,
		},
		{
			"unrecognized field",
			bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "testRunner"}, {"bogus", 1}},
			`unrecognized field "bogus"`,
		},
		{
			"missing session entity",
			bson.D{
				{"name", "find"},
				{"object", "collection0"},
				{"arguments", bson.D{{"session", "session0"}, {"filter", bson.D{}}}},
			},
			`no session entity found with ID "session0"`,
		},
		{
			"missing target entity",
			bson.D{{"name", "find"}, {"object", "collection0"}, {"arguments", bson.D{{"filter", bson.D{}}}}},
			`no collection entity found with ID "collection0"`,
		},
		{
			"expected error not raised",
			bson.D{
				{"name", "assertNumberConnectionsCheckedOut"},
				{"object", "testRunner"},
				{"expectError", bson.D{{"isError", true}}},
			},
			"error verification failed",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newTestingContext(t)
			op := parseTestOperations(t, tc.op)[0]

			err := op.execute(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errStr)
		})
	}

	t.Run("success", func(t *testing.T) {
		ctx := newTestingContext(t)
		op := parseTestOperations(t, bson.D{
			{"name", "assertNumberConnectionsCheckedOut"},
			{"object", "testRunner"},
			{"arguments", bson.D{{"client", "client0"}, {"connections", 0}}},
		})[0]

		assert.NoError(t, op.execute(ctx))
	})
	t.Run("ignoreResultAndError", func(t *testing.T) {
		ctx := newTestingContext(t)
		op := parseTestOperations(t, bson.D{
			{"name", "assertNumberConnectionsCheckedOut"},
			{"object", "testRunner"},
			{"expectError", bson.D{{"isError", true}}},
			{"ignoreResultAndError", true},
		})[0]

		assert.NoError(t, op.execute(ctx))
	})
}

func TestExecuteOperations(t *testing.T) {
	ctx := newTestingContext(t)
	ops := parseTestOperations(t,
		bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "testRunner"}},
		bson.D{{"name", "frobnicate"}, {"object", "testRunner"}, {"arguments", bson.D{{"x", 1}}}},
		bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "client0"}},
	)

	err := executeOperations(ctx, ops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error running operation 1")
	assert.Contains(t, err.Error(), `frobnicate on "testRunner" with arguments`)
}

func TestParseOperations(t *testing.T) {
	doc := marshalDoc(t, bson.D{{"ops", bson.A{1}}})

	_, err := parseOperations(doc.Lookup("ops").Array())
	assert.Error(t, err, "expected error parsing non-document operation")
}

func TestIsFailPointOperation(t *testing.T) {
	for _, name := range []string{"failPoint", "targetedFailPoint", "configureFailPoint"} {
		assert.True(t, (&operation{Name: name}).isFailPointOperation(), "expected %q to be a fail point operation", name)
	}
	assert.False(t, (&operation{Name: "find"}).isFailPointOperation())
}

func TestOperationMetrics(t *testing.T) {
	m := NewMetrics()
	ctx := newTestingContext(t, NewOptions().SetMetrics(m))
	ops := parseTestOperations(t,
		bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "testRunner"}},
		bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "client0"}},
	)
	for _, op := range ops {
		_ = op.execute(ctx)
	}

	out := writeMetrics(m)
	assert.Contains(t, out, `unified_operations_total{name="assertNumberConnectionsCheckedOut"} 2`)
	assert.Contains(t, out, `unified_operation_errors_total{name="assertNumberConnectionsCheckedOut"} 1`)
}

func TestOperationLogsSession(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewWithWriter(&buf, "debug", logger.TextFormat)
	require.NoError(t, err)

	ctx := newTestingContext(t, NewOptions().SetDeployment(offlineDeployment()).SetLogger(log))
	createTestEntities(ctx, t,
		offlineClient("client0"),
		bson.D{{"session", bson.D{{"id", "session0"}, {"client", "client0"}}}},
	)
	ops := parseTestOperations(t,
		bson.D{
			{"name", "assertNumberConnectionsCheckedOut"},
			{"object", "testRunner"},
			{"arguments", bson.D{{"session", "session0"}}},
		},
		bson.D{{"name", "assertNumberConnectionsCheckedOut"}, {"object", "testRunner"}},
	)

	_, err = ops[0].run(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), logger.FieldSession+"=session0")
	assert.Empty(t, ops[0].sessionID, "expected run not to modify the parsed operation")

	buf.Reset()
	_, err = ops[1].run(ctx)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), logger.FieldSession+"=")
}
