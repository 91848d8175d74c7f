// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

var (
	emptyCoreDocument = bsoncore.NewDocumentBuilder().Build()
	emptyDocument     = bson.Raw(emptyCoreDocument)
	emptyRawValue     = bson.RawValue{}
)

// operationResult holds the outcome of a single operation.
type operationResult struct {
	// value is the decoded result. Its Type is zero when the operation produced no value.
	value bson.RawValue
	// reply is the raw server reply, if the operation exposes one.
	reply bson.Raw
	// err is the error returned by the operation. Some operations (e.g. bulkWrite) set both value and err.
	err error
	// fromCursor is set for results built by draining a cursor. Each document of such a result is a root document.
	fromCursor bool
}

// newEmptyResult returns an operationResult with no fields set. This should be used if the operation does not
// produce a value.
func newEmptyResult() *operationResult {
	return &operationResult{}
}

// newDocumentResult is a helper to create a value result where the value is a BSON document.
func newDocumentResult(result []byte, err error) *operationResult {
	return newValueResult(bsontype.EmbeddedDocument, result, err)
}

// newValueResult creates an operationResult where the result is a BSON value of an arbitrary type.
func newValueResult(valueType bsontype.Type, data []byte, err error) *operationResult {
	if data == nil {
		return &operationResult{err: err}
	}
	return &operationResult{
		value: bson.RawValue{Type: valueType, Value: data},
		err:   err,
	}
}

// newReplyResult creates an operationResult for a command whose reply is also its value.
func newReplyResult(reply bson.Raw, err error) *operationResult {
	res := newDocumentResult(reply, err)
	res.reply = reply
	return res
}

// newCursorResult creates an operationResult that contains documents retrieved by fully iterating a cursor.
func newCursorResult(docs []bson.Raw) *operationResult {
	return &operationResult{
		value:      bson.RawValue{Type: bsontype.Array, Value: bsonutil.DocumentsToArray(docs)},
		fromCursor: true,
	}
}

// newErrorResult creates an operationResult that only holds an error.
func newErrorResult(err error) *operationResult {
	return &operationResult{err: err}
}

func newInsertOneResult(res *mongo.InsertOneResult, err error) (*operationResult, error) {
	if res == nil {
		return newErrorResult(err), nil
	}

	b := bsoncore.NewDocumentBuilder()
	if res.InsertedID != nil {
		t, data, marshalErr := bson.MarshalValue(res.InsertedID)
		if marshalErr != nil {
			return nil, fmt.Errorf("error converting InsertedID field to BSON: %v", marshalErr)
		}
		b.AppendValue("insertedId", bsoncore.Value{Type: t, Data: data})
	}
	return newDocumentResult(b.Build(), err), nil
}

func newInsertManyResult(res *mongo.InsertManyResult, err error) (*operationResult, error) {
	if res == nil {
		return newErrorResult(err), nil
	}

	ids := bsoncore.NewDocumentBuilder()
	for idx, id := range res.InsertedIDs {
		t, data, marshalErr := bson.MarshalValue(id)
		if marshalErr != nil {
			return nil, fmt.Errorf("error converting InsertedID value to BSON: %v", marshalErr)
		}
		ids.AppendValue(strconv.Itoa(idx), bsoncore.Value{Type: t, Data: data})
	}
	raw := bsoncore.NewDocumentBuilder().
		AppendInt64("insertedCount", int64(len(res.InsertedIDs))).
		AppendDocument("insertedIds", ids.Build()).
		Build()
	return newDocumentResult(raw, err), nil
}

func newUpdateResult(res *mongo.UpdateResult, err error) (*operationResult, error) {
	if res == nil {
		return newErrorResult(err), nil
	}

	b := bsoncore.NewDocumentBuilder().
		AppendInt64("matchedCount", res.MatchedCount).
		AppendInt64("modifiedCount", res.ModifiedCount).
		AppendInt64("upsertedCount", res.UpsertedCount)
	if res.UpsertedID != nil {
		t, data, marshalErr := bson.MarshalValue(res.UpsertedID)
		if marshalErr != nil {
			return nil, fmt.Errorf("error converting UpsertedID to BSON: %v", marshalErr)
		}
		b.AppendValue("upsertedId", bsoncore.Value{Type: t, Data: data})
	}
	return newDocumentResult(b.Build(), err), nil
}

func newDeleteResult(res *mongo.DeleteResult, err error) *operationResult {
	if res == nil {
		return newErrorResult(err)
	}

	raw := bsoncore.NewDocumentBuilder().
		AppendInt64("deletedCount", res.DeletedCount).
		Build()
	return newDocumentResult(raw, err)
}

func newDistinctResult(values []interface{}, err error) (*operationResult, error) {
	if err != nil {
		return newErrorResult(err), nil
	}
	if values == nil {
		values = []interface{}{}
	}

	t, data, marshalErr := bson.MarshalValue(values)
	if marshalErr != nil {
		return nil, fmt.Errorf("error converting distinct result to BSON: %v", marshalErr)
	}
	return newValueResult(t, data, nil), nil
}

// newBulkWriteResult renders res in the server's reply shape and then rewrites it to the CRUD result shape.
func newBulkWriteResult(res *mongo.BulkWriteResult, err error) (*operationResult, error) {
	if res == nil {
		return newErrorResult(err), nil
	}

	reply, marshalErr := bulkWriteReplyFromResult(res)
	if marshalErr != nil {
		return nil, marshalErr
	}
	rewritten, rewriteErr := rewriteBulkWriteReply(reply)
	if rewriteErr != nil {
		return nil, rewriteErr
	}

	result := newDocumentResult(rewritten, err)
	result.reply = reply
	return result, nil
}

// bulkWriteReplyFromResult renders res in the shape of a server bulk write reply: nInserted, nMatched, nModified,
// nRemoved, nUpserted and an upserted array of {index, _id} documents.
func bulkWriteReplyFromResult(res *mongo.BulkWriteResult) (bson.Raw, error) {
	indexes := make([]int64, 0, len(res.UpsertedIDs))
	for idx := range res.UpsertedIDs {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	upserted := bsoncore.NewArrayBuilder()
	for _, idx := range indexes {
		t, data, err := bson.MarshalValue(res.UpsertedIDs[idx])
		if err != nil {
			return nil, fmt.Errorf("error converting upserted _id to BSON: %v", err)
		}
		upserted.AppendDocument(bsoncore.NewDocumentBuilder().
			AppendInt64("index", idx).
			AppendValue("_id", bsoncore.Value{Type: t, Data: data}).
			Build())
	}

	return bson.Raw(bsoncore.NewDocumentBuilder().
		AppendInt64("nInserted", res.InsertedCount).
		AppendInt64("nMatched", res.MatchedCount).
		AppendInt64("nModified", res.ModifiedCount).
		AppendInt64("nRemoved", res.DeletedCount).
		AppendInt64("nUpserted", res.UpsertedCount).
		AppendArray("upserted", upserted.Build()).
		Build()), nil
}

var bulkWriteFieldNames = map[string]string{
	"nInserted": "insertedCount",
	"nRemoved":  "deletedCount",
	"nMatched":  "matchedCount",
	"nModified": "modifiedCount",
	"nUpserted": "upsertedCount",
}

// rewriteBulkWriteReply converts a bulk write reply to the CRUD result shape. Counters are renamed, the upserted array
// becomes an upsertedIds document keyed by the string form of each index, and every other field is copied unchanged.
// upsertedIds is always present. Numeric types are preserved.
func rewriteBulkWriteReply(reply bson.Raw) (bson.Raw, error) {
	elems, err := reply.Elements()
	if err != nil {
		return nil, errors.Wrap(err, "error reading bulk write reply")
	}

	b := bsoncore.NewDocumentBuilder()
	upsertedIDs := bsoncore.NewDocumentBuilder()
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		if renamed, ok := bulkWriteFieldNames[key]; ok {
			b.AppendValue(renamed, bsoncore.Value{Type: val.Type, Data: val.Value})
			continue
		}
		if key != "upserted" {
			b.AppendValue(key, bsoncore.Value{Type: val.Type, Data: val.Value})
			continue
		}

		arr, ok := val.ArrayOK()
		if !ok {
			return nil, errors.Errorf("expected upserted to be an array, got %s", val.Type)
		}
		docs, err := bsonutil.RawToDocuments(arr)
		if err != nil {
			return nil, errors.Wrap(err, "error reading upserted array")
		}
		for _, doc := range docs {
			index, err := doc.LookupErr("index")
			if err != nil || !index.IsNumber() {
				return nil, errors.Errorf("upserted entry %s is missing a numeric index", doc)
			}
			id, err := doc.LookupErr("_id")
			if err != nil {
				return nil, errors.Errorf("upserted entry %s is missing an _id", doc)
			}
			upsertedIDs.AppendValue(strconv.FormatInt(index.AsInt64(), 10),
				bsoncore.Value{Type: id.Type, Data: id.Value})
		}
	}
	b.AppendDocument("upsertedIds", upsertedIDs.Build())
	return bson.Raw(b.Build()), nil
}

// String describes the result for failure diagnostics.
func (r *operationResult) String() string {
	var parts []string
	if r.value.Type != 0 {
		parts = append(parts, "value: "+r.value.String())
	}
	if r.reply != nil {
		parts = append(parts, "reply: "+bsonutil.ExtJSON(r.reply))
	}
	if r.err != nil {
		parts = append(parts, fmt.Sprintf("error: %v", r.err))
	}
	if len(parts) == 0 {
		return "{empty result}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// verifyOperationResult matches the expected value against the result. Root documents may have extra keys, which
// includes each document of a cursor result. Plain array values (e.g. from distinct) must match exactly.
func verifyOperationResult(ctx context.Context, expected bson.RawValue, actual *operationResult) error {
	if actual.err != nil {
		return fmt.Errorf("expected result %s but operation failed: %v", expected, actual.err)
	}
	return matchResultValue(ctx, expected, actual)
}

// matchResultValue is verifyOperationResult without the success requirement. It is used for the result attached to
// an expected error.
func matchResultValue(ctx context.Context, expected bson.RawValue, actual *operationResult) error {
	extraKeysAllowed := actual.value.Type != bsontype.Array || actual.fromCursor
	return verifyValuesMatch(ctx, expected, actual.value, extraKeysAllowed)
}
