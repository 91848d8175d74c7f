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
)

func TestCollectionDataValidate(t *testing.T) {
	testCases := []struct {
		name  string
		doc   bson.D
		valid bool
	}{
		{"valid", bson.D{{"databaseName", "db"}, {"collectionName", "coll"}, {"documents", bson.A{bson.D{{"_id", 1}}}}}, true},
		{"empty documents", bson.D{{"databaseName", "db"}, {"collectionName", "coll"}, {"documents", bson.A{}}}, true},
		{"missing documents", bson.D{{"databaseName", "db"}, {"collectionName", "coll"}}, false},
		{"missing database", bson.D{{"collectionName", "coll"}, {"documents", bson.A{}}}, false},
		{"extra field", bson.D{{"databaseName", "db"}, {"collectionName", "coll"}, {"documents", bson.A{}}, {"x", 1}}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var data collectionData
			require.NoError(t, bson.Unmarshal(marshalDoc(t, tc.doc), &data), "Unmarshal error")

			err := data.validate()
			if tc.valid {
				assert.NoError(t, err)
				assert.Equal(t, "db.coll", data.namespace())
				return
			}
			assert.Error(t, err)
		})
	}
}

func TestCollectionDataCompareContents(t *testing.T) {
	data := &collectionData{
		DatabaseName:   "db",
		CollectionName: "coll",
		Documents: []bson.Raw{
			marshalDoc(t, bson.D{{"_id", 1}, {"x", 11}}),
			marshalDoc(t, bson.D{{"_id", 2}, {"x", 22}}),
		},
	}

	t.Run("match ignores key order", func(t *testing.T) {
		actual := []bson.Raw{
			marshalDoc(t, bson.D{{"x", 11}, {"_id", 1}}),
			marshalDoc(t, bson.D{{"_id", 2}, {"x", 22}}),
		}
		assert.NoError(t, data.compareContents(actual))
	})
	t.Run("count mismatch", func(t *testing.T) {
		actual := []bson.Raw{marshalDoc(t, bson.D{{"_id", 1}, {"x", 11}})}

		err := data.compareContents(actual)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected collection coll to contain: ")
		assert.Contains(t, err.Error(), "\nbut got: ")
	})
	t.Run("document mismatch", func(t *testing.T) {
		actual := []bson.Raw{
			marshalDoc(t, bson.D{{"_id", 1}, {"x", 11}}),
			marshalDoc(t, bson.D{{"_id", 2}, {"x", 23}}),
		}
		assert.Error(t, data.compareContents(actual))
	})
	t.Run("numeric types must match exactly", func(t *testing.T) {
		actual := []bson.Raw{
			marshalDoc(t, bson.D{{"_id", 1}, {"x", int64(11)}}),
			marshalDoc(t, bson.D{{"_id", 2}, {"x", 22}}),
		}
		assert.Error(t, data.compareContents(actual))
	})
	t.Run("empty collection", func(t *testing.T) {
		empty := &collectionData{DatabaseName: "db", CollectionName: "coll", Documents: []bson.Raw{}}
		assert.NoError(t, empty.compareContents(nil))
	})
}
