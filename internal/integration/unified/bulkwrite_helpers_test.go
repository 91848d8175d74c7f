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
	"go.mongodb.org/mongo-driver/mongo"
)

func TestCreateBulkWriteModels(t *testing.T) {
	t.Run("all request types", func(t *testing.T) {
		requests := bson.A{
			bson.D{{"insertOne", bson.D{{"document", bson.D{{"_id", 1}}}}}},
			bson.D{{"updateOne", bson.D{{"filter", bson.D{{"_id", 1}}}, {"update", bson.D{{"$set", bson.D{{"x", 1}}}}}, {"upsert", true}}}},
			bson.D{{"updateMany", bson.D{{"filter", bson.D{}}, {"update", bson.A{bson.D{{"$set", bson.D{{"y", 1}}}}}}}}},
			bson.D{{"replaceOne", bson.D{{"filter", bson.D{{"_id", 1}}}, {"replacement", bson.D{{"x", 2}}}}}},
			bson.D{{"deleteOne", bson.D{{"filter", bson.D{{"_id", 1}}}}}},
			bson.D{{"deleteMany", bson.D{{"filter", bson.D{}}}}},
		}
		doc := marshalDoc(t, bson.D{{"requests", requests}})

		models, err := createBulkWriteModels(doc.Lookup("requests").Array())
		require.NoError(t, err, "createBulkWriteModels error")
		require.Len(t, models, 6)

		assert.IsType(t, &mongo.InsertOneModel{}, models[0])
		assert.IsType(t, &mongo.UpdateOneModel{}, models[1])
		assert.IsType(t, &mongo.UpdateManyModel{}, models[2])
		assert.IsType(t, &mongo.ReplaceOneModel{}, models[3])
		assert.IsType(t, &mongo.DeleteOneModel{}, models[4])
		assert.IsType(t, &mongo.DeleteManyModel{}, models[5])

		update := models[1].(*mongo.UpdateOneModel)
		require.NotNil(t, update.Upsert)
		assert.True(t, *update.Upsert)
	})

	errorCases := []struct {
		name    string
		request interface{}
	}{
		{"not a document", "insertOne"},
		{"unknown request type", bson.D{{"upsertOne", bson.D{}}}},
		{"two request types", bson.D{{"insertOne", bson.D{}}, {"deleteOne", bson.D{}}}},
		{"unknown option", bson.D{{"deleteOne", bson.D{{"filter", bson.D{}}, {"upsert", true}}}}},
		{"missing filter", bson.D{{"deleteMany", bson.D{}}}},
		{"missing document", bson.D{{"insertOne", bson.D{}}}},
		{"missing update", bson.D{{"updateOne", bson.D{{"filter", bson.D{}}}}}},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := marshalDoc(t, bson.D{{"requests", bson.A{tc.request}}})

			_, err := createBulkWriteModels(doc.Lookup("requests").Array())
			assert.Error(t, err)
		})
	}
}

func TestBulkWriteReply(t *testing.T) {
	res := &mongo.BulkWriteResult{
		InsertedCount: 1,
		MatchedCount:  2,
		ModifiedCount: 2,
		DeletedCount:  3,
		UpsertedCount: 2,
		UpsertedIDs:   map[int64]interface{}{4: "b", 1: "a"},
	}

	reply, err := bulkWriteReplyFromResult(res)
	require.NoError(t, err, "bulkWriteReplyFromResult error")
	assert.Equal(t, int64(1), reply.Lookup("nInserted").Int64())
	assert.Equal(t, int64(3), reply.Lookup("nRemoved").Int64())

	upserted, err := reply.Lookup("upserted").Array().Values()
	require.NoError(t, err)
	require.Len(t, upserted, 2)
	assert.Equal(t, int64(1), upserted[0].Document().Lookup("index").Int64(), "expected upserts sorted by index")

	rewritten, err := rewriteBulkWriteReply(reply)
	require.NoError(t, err, "rewriteBulkWriteReply error")
	assert.Equal(t, int64(1), rewritten.Lookup("insertedCount").Int64())
	assert.Equal(t, int64(2), rewritten.Lookup("matchedCount").Int64())
	assert.Equal(t, int64(2), rewritten.Lookup("modifiedCount").Int64())
	assert.Equal(t, int64(3), rewritten.Lookup("deletedCount").Int64())
	assert.Equal(t, int64(2), rewritten.Lookup("upsertedCount").Int64())
	assert.Equal(t, "a", rewritten.Lookup("upsertedIds", "1").StringValue())
	assert.Equal(t, "b", rewritten.Lookup("upsertedIds", "4").StringValue())

	_, err = rewritten.LookupErr("upserted")
	assert.Error(t, err, "expected upserted array to be removed")

	t.Run("upsertedIds always present", func(t *testing.T) {
		rewritten, err := rewriteBulkWriteReply(marshalDoc(t, bson.D{{"nInserted", int32(1)}}))
		require.NoError(t, err)

		ids, err := rewritten.LookupErr("upsertedIds")
		require.NoError(t, err)
		assert.Equal(t, emptyDocument, ids.Document())
		assert.Equal(t, int32(1), rewritten.Lookup("insertedCount").Int32(), "expected numeric type to be preserved")
	})
}
