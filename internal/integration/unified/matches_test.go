// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMatches(t *testing.T) {
	ctx := newTestingContext(t)

	assertMatches := func(t *testing.T, expected, actual interface{}, extraKeysAllowed, shouldMatch bool) {
		t.Helper()

		err := verifyValuesMatch(ctx, marshalValue(t, expected), marshalValue(t, actual), extraKeysAllowed)
		if shouldMatch {
			assert.NoError(t, err, "expected values to match")
			return
		}
		assert.Error(t, err, "expected values not to match")
	}

	t.Run("documents", func(t *testing.T) {
		testCases := []struct {
			name             string
			expected, actual bson.D
			extraKeysAllowed bool
			shouldMatch      bool
		}{
			{"exact", bson.D{{"x", 1}}, bson.D{{"x", 1}}, false, true},
			{"extra key at root allowed", bson.D{{"x", 1}}, bson.D{{"x", 1}, {"y", 1}}, true, true},
			{"extra key at root disallowed", bson.D{{"x", 1}}, bson.D{{"x", 1}, {"y", 1}}, false, false},
			{"extra key nested", bson.D{{"x", bson.D{{"a", 1}}}}, bson.D{{"x", bson.D{{"a", 1}, {"b", 2}}}}, true, false},
			{"missing key", bson.D{{"x", 1}, {"y", 1}}, bson.D{{"x", 1}}, true, false},
			{"different value", bson.D{{"x", "a"}}, bson.D{{"x", "b"}}, true, false},
			{"numbers across types", bson.D{{"x", int32(1)}}, bson.D{{"x", int64(1)}}, true, true},
			{"integer and double", bson.D{{"x", int32(1)}}, bson.D{{"x", 1.0}}, true, true},
			{"different numbers", bson.D{{"x", int32(1)}}, bson.D{{"x", int64(2)}}, true, false},
			{"number and string", bson.D{{"x", 1}}, bson.D{{"x", "1"}}, true, false},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				assertMatches(t, tc.expected, tc.actual, tc.extraKeysAllowed, tc.shouldMatch)
			})
		}
	})
	t.Run("arrays", func(t *testing.T) {
		assertMatches(t, bson.A{1, 2}, bson.A{1, 2}, false, true)
		assertMatches(t, bson.A{1, 2}, bson.A{1, 2, 3}, false, false)
		assertMatches(t, bson.A{1, 2}, bson.A{2, 1}, false, false)
		assertMatches(t, bson.A{bson.D{{"x", 1}}}, bson.A{bson.D{{"x", 1}, {"y", 2}}}, true, true)
	})
	t.Run("$$exists", func(t *testing.T) {
		exists := func(b bool) bson.D { return bson.D{{"$$exists", b}} }

		assertMatches(t, bson.D{{"x", exists(true)}}, bson.D{{"x", 1}}, false, true)
		assertMatches(t, bson.D{{"x", exists(true)}}, bson.D{}, false, false)
		assertMatches(t, bson.D{{"x", exists(false)}}, bson.D{}, false, true)
		assertMatches(t, bson.D{{"x", exists(false)}}, bson.D{{"x", 1}}, false, false)
	})
	t.Run("$$type", func(t *testing.T) {
		assertMatches(t, bson.D{{"x", bson.D{{"$$type", "string"}}}}, bson.D{{"x", "a"}}, false, true)
		assertMatches(t, bson.D{{"x", bson.D{{"$$type", "int"}}}}, bson.D{{"x", "a"}}, false, false)
		assertMatches(t, bson.D{{"x", bson.D{{"$$type", bson.A{"int", "long"}}}}}, bson.D{{"x", int64(1)}}, false, true)
		assertMatches(t, bson.D{{"x", bson.D{{"$$type", "number"}}}}, bson.D{{"x", 1.5}}, false, true)
		assertMatches(t, bson.D{{"x", bson.D{{"$$type", "objectId"}}}}, bson.D{{"x", primitive.NewObjectID()}}, false, true)
	})
	t.Run("$$unsetOrMatches", func(t *testing.T) {
		unsetOrMatches := bson.D{{"x", bson.D{{"$$unsetOrMatches", 1}}}}

		assertMatches(t, unsetOrMatches, bson.D{}, false, true)
		assertMatches(t, unsetOrMatches, bson.D{{"x", 1}}, false, true)
		assertMatches(t, unsetOrMatches, bson.D{{"x", 2}}, false, false)
	})
	t.Run("$$matchesHexBytes", func(t *testing.T) {
		expected := bson.D{{"x", bson.D{{"$$matchesHexBytes", "0102"}}}}

		assertMatches(t, expected, bson.D{{"x", primitive.Binary{Data: []byte{1, 2}}}}, false, true)
		assertMatches(t, expected, bson.D{{"x", primitive.Binary{Data: []byte{1, 3}}}}, false, false)
		assertMatches(t, expected, bson.D{{"x", "0102"}}, false, false)
	})
	t.Run("$$lte", func(t *testing.T) {
		expected := bson.D{{"x", bson.D{{"$$lte", 5}}}}

		assertMatches(t, expected, bson.D{{"x", 5}}, false, true)
		assertMatches(t, expected, bson.D{{"x", 4.5}}, false, true)
		assertMatches(t, expected, bson.D{{"x", 6}}, false, false)
	})
	t.Run("$$matchesEntity", func(t *testing.T) {
		require.NoError(t, entities(ctx).addBSONEntity("saved", marshalValue(t, bson.D{{"a", 1}})))
		expected := bson.D{{"x", bson.D{{"$$matchesEntity", "saved"}}}}

		assertMatches(t, expected, bson.D{{"x", bson.D{{"a", 1}}}}, false, true)
		assertMatches(t, expected, bson.D{{"x", bson.D{{"a", 2}}}}, false, false)
		assertMatches(t, bson.D{{"x", bson.D{{"$$matchesEntity", "missing"}}}}, bson.D{{"x", 1}}, false, false)
	})
	t.Run("non-string operator arguments", func(t *testing.T) {
		testCases := []struct {
			name   string
			actual interface{}
		}{
			{"$$matchesHexBytes", primitive.Binary{Data: []byte{1}}},
			{"$$sessionLsid", bson.D{{"id", primitive.Binary{Subtype: 4, Data: make([]byte, 16)}}}},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				expected := marshalValue(t, bson.D{{"x", bson.D{{tc.name, 1}}}})
				actual := marshalValue(t, bson.D{{"x", tc.actual}})

				var err error
				assert.NotPanics(t, func() {
					err = verifyValuesMatch(ctx, expected, actual, false)
				})
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.name+" value to be a string")
			})
		}
	})
	t.Run("unknown operator", func(t *testing.T) {
		assertMatches(t, bson.D{{"x", bson.D{{"$$bogus", 1}}}}, bson.D{{"x", 1}}, false, false)
	})
}

func TestMatchingErrorKeyPath(t *testing.T) {
	ctx := newTestingContext(t)
	expected := marshalValue(t, bson.D{{"a", bson.D{{"b", bson.A{1, 2}}}}})
	actual := marshalValue(t, bson.D{{"a", bson.D{{"b", bson.A{1, 3}}}}})

	err := verifyValuesMatch(ctx, expected, actual, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a.b.1"`)
}
