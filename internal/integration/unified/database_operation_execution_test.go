// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestAppendCommandElements(t *testing.T) {
	cmd := marshalDoc(t, bson.D{{"find", "coll"}, {"readConcern", bson.D{{"level", "local"}}}})
	args := marshalDoc(t, bson.D{
		{"readConcern", bson.D{{"level", "majority"}}},
		{"writeConcern", bson.D{{"w", 1}}},
	})
	elems, err := args.Elements()
	require.NoError(t, err)

	extra := make([]bsoncore.Element, 0, len(elems))
	for _, elem := range elems {
		extra = append(extra, bsoncore.Element(elem))
	}
	got := appendCommandElements(cmd, extra)
	require.NoError(t, got.Validate(), "invalid document")

	var decoded bson.D
	require.NoError(t, bson.Unmarshal(got, &decoded))
	want := bson.D{
		{"find", "coll"},
		{"readConcern", bson.D{{"level", "local"}}},
		{"writeConcern", bson.D{{"w", int32(1)}}},
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateTimeSeriesOptions(t *testing.T) {
	doc := marshalDoc(t, bson.D{
		{"timeField", "time"},
		{"metaField", "meta"},
		{"bucketMaxSpanSeconds", 3600},
		{"bucketRoundingSeconds", 3600},
	})

	tso, err := createTimeSeriesOptions(doc)
	require.NoError(t, err, "createTimeSeriesOptions error")
	assert.Equal(t, "time", tso.TimeField)
	require.NotNil(t, tso.MetaField)
	assert.Equal(t, "meta", *tso.MetaField)
	require.NotNil(t, tso.BucketMaxSpan)
	assert.Equal(t, time.Hour, *tso.BucketMaxSpan)

	_, err = createTimeSeriesOptions(marshalDoc(t, bson.D{{"expireAfter", 1}}))
	assert.Error(t, err)
}

func TestHexBytes(t *testing.T) {
	got, err := hexBytes(marshalValue(t, bson.D{{"$$hexBytes", "1122"}}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22}, got)

	_, err = hexBytes(marshalValue(t, "1122"))
	assert.Error(t, err)
	_, err = hexBytes(marshalValue(t, bson.D{{"$$hexBytes", "zz"}}))
	assert.Error(t, err)
}
