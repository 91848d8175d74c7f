// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func marshal(t *testing.T, val interface{}) bson.Raw {
	t.Helper()

	doc, err := bson.Marshal(val)
	require.NoError(t, err, "Marshal error")
	return doc
}

func TestRemoveFieldsFromDocument(t *testing.T) {
	doc := marshal(t, bson.D{{"a", 1}, {"session", "s0"}, {"b", 2}})

	got := RemoveFieldsFromDocument(doc, "session")
	assert.Equal(t, marshal(t, bson.D{{"a", 1}, {"b", 2}}), got)

	got = RemoveFieldsFromDocument(doc, "a", "b", "session")
	assert.Equal(t, marshal(t, bson.D{}), got)
}

func TestSortedCopy(t *testing.T) {
	doc := marshal(t, bson.D{{"z", 1}, {"_id", 1}, {"a", bson.D{{"y", 1}, {"x", 1}}}})

	sorted, err := SortedCopy(doc)
	require.NoError(t, err, "SortedCopy error")

	expected := marshal(t, bson.D{{"_id", 1}, {"a", bson.D{{"y", 1}, {"x", 1}}}, {"z", 1}})
	assert.Equal(t, expected, sorted, "expected %s, got %s", expected, sorted)
}

func TestRawToDocuments(t *testing.T) {
	t.Run("documents", func(t *testing.T) {
		arr := DocumentsToArray([]bson.Raw{marshal(t, bson.D{{"x", 1}}), marshal(t, bson.D{{"x", 2}})})

		docs, err := RawToDocuments(arr)
		require.NoError(t, err, "RawToDocuments error")
		require.Len(t, docs, 2)
		assert.Equal(t, int32(2), docs[1].Lookup("x").Int32())
	})
	t.Run("non-document element", func(t *testing.T) {
		_, data, err := bson.MarshalValue(bson.A{bson.D{}, 1})
		require.NoError(t, err, "MarshalValue error")

		_, err = RawToDocuments(data)
		assert.Error(t, err, "expected error for non-document element")
	})
}

func TestStringSlice(t *testing.T) {
	_, data, err := bson.MarshalValue(bson.A{"a", "b"})
	require.NoError(t, err, "MarshalValue error")

	strs, err := StringSlice(data)
	require.NoError(t, err, "StringSlice error")
	assert.Equal(t, []string{"a", "b"}, strs)

	_, data, err = bson.MarshalValue(bson.A{"a", 1})
	require.NoError(t, err, "MarshalValue error")
	_, err = StringSlice(data)
	assert.Error(t, err, "expected error for non-string element")
}

func TestExtJSON(t *testing.T) {
	assert.Equal(t, "{}", ExtJSON(nil))
	assert.Equal(t, `{"x":1}`, ExtJSON(marshal(t, bson.D{{"x", 1}})))
	assert.Contains(t, string(PrettyExtJSON(marshal(t, bson.D{{"x", 1}}))), "\n")
}
