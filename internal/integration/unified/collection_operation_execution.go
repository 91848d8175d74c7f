// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// This file contains helpers to execute collection operations.

type aggregator interface {
	Aggregate(context.Context, interface{}, ...*options.AggregateOptions) (*mongo.Cursor, error)
}

func executeAggregate(ctx context.Context, op *operation) (*operationResult, error) {
	e, err := entities(ctx).lookup(op.Object)
	if err != nil {
		return nil, err
	}
	var target aggregator
	switch typed := e.(type) {
	case *collectionEntity:
		target = typed.Collection
	case *databaseEntity:
		target = typed.Database
	default:
		return nil, fmt.Errorf("aggregate requires a database or collection entity, %q has type %s", op.Object,
			e.kind())
	}

	var pipeline []interface{}
	opts := options.Aggregate()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "allowDiskUse":
			opts.SetAllowDiskUse(val.Boolean())
		case "batchSize":
			opts.SetBatchSize(val.Int32())
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			comment, err := createCommentString(val)
			if err != nil {
				return nil, fmt.Errorf("error creating comment: %v", err)
			}
			opts.SetComment(comment)
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "maxAwaitTimeMS":
			opts.SetMaxAwaitTime(millis(val))
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "pipeline":
			pipeline = bsonutil.RawArrayToInterfaces(val.Array())
		default:
			return nil, fmt.Errorf("unrecognized aggregate option %q", key)
		}
	}
	if pipeline == nil {
		return nil, newMissingArgumentError("pipeline")
	}

	cursor, err := target.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return drainCursor(ctx, cursor), nil
}

// drainCursor iterates the cursor to completion and closes it.
func drainCursor(ctx context.Context, cursor *mongo.Cursor) *operationResult {
	defer cursor.Close(ctx)

	var docs []bson.Raw
	if err := cursor.All(ctx, &docs); err != nil {
		return newErrorResult(err)
	}
	return newCursorResult(docs)
}

func executeBulkWrite(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var models []mongo.WriteModel
	opts := options.BulkWrite()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "comment":
			opts.SetComment(val)
		case "let":
			opts.SetLet(val.Document())
		case "ordered":
			opts.SetOrdered(val.Boolean())
		case "requests":
			models, err = createBulkWriteModels(val.Array())
			if err != nil {
				return nil, fmt.Errorf("error creating write models: %v", err)
			}
		default:
			return nil, fmt.Errorf("unrecognized bulkWrite option %q", key)
		}
	}
	if models == nil {
		return nil, newMissingArgumentError("requests")
	}

	return newBulkWriteResult(coll.BulkWrite(ctx, models, opts))
}

func executeCountDocuments(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	opts := options.Count()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			comment, err := createCommentString(val)
			if err != nil {
				return nil, fmt.Errorf("error creating comment: %v", err)
			}
			opts.SetComment(comment)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "limit":
			opts.SetLimit(val.AsInt64())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "skip":
			opts.SetSkip(val.AsInt64())
		default:
			return nil, fmt.Errorf("unrecognized countDocuments option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	count, err := coll.CountDocuments(ctx, filter, opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.Int64, bsoncore.AppendInt64(nil, count), nil), nil
}

func executeDeleteOne(ctx context.Context, op *operation) (*operationResult, error) {
	return executeDelete(ctx, op, false)
}

func executeDeleteMany(ctx context.Context, op *operation) (*operationResult, error) {
	return executeDelete(ctx, op, true)
}

func executeDelete(ctx context.Context, op *operation, many bool) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	opts := options.Delete()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		default:
			return nil, fmt.Errorf("unrecognized %s option %q", op.Name, key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	if many {
		return newDeleteResult(coll.DeleteMany(ctx, filter, opts)), nil
	}
	return newDeleteResult(coll.DeleteOne(ctx, filter, opts)), nil
}

func executeDistinct(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var fieldName string
	var filter bson.Raw
	opts := options.Distinct()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "fieldName":
			fieldName = val.StringValue()
		case "filter":
			filter = val.Document()
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		default:
			return nil, fmt.Errorf("unrecognized distinct option %q", key)
		}
	}
	if fieldName == "" {
		return nil, newMissingArgumentError("fieldName")
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	return newDistinctResult(coll.Distinct(ctx, fieldName, filter, opts))
}

func executeEstimatedDocumentCount(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	opts := options.EstimatedDocumentCount()
	// Some estimatedDocumentCount operations have no arguments.
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "comment":
			opts.SetComment(val)
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		default:
			return nil, fmt.Errorf("unrecognized estimatedDocumentCount option %q", key)
		}
	}

	count, err := coll.EstimatedDocumentCount(ctx, opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.Int64, bsoncore.AppendInt64(nil, count), nil), nil
}

// cursorResult holds the cursor opened by a find along with the driver error, if any.
type cursorResult struct {
	cursor *mongo.Cursor
	err    error
}

// openFindCursor parses find arguments and runs the find. A non-nil error means the find could not be attempted.
func openFindCursor(ctx context.Context, op *operation) (*cursorResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	opts := options.Find()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "allowDiskUse":
			opts.SetAllowDiskUse(val.Boolean())
		case "allowPartialResults":
			opts.SetAllowPartialResults(val.Boolean())
		case "batchSize":
			opts.SetBatchSize(val.Int32())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			comment, err := createCommentString(val)
			if err != nil {
				return nil, fmt.Errorf("error creating comment: %v", err)
			}
			opts.SetComment(comment)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "limit":
			opts.SetLimit(val.AsInt64())
		case "max":
			opts.SetMax(val.Document())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "min":
			opts.SetMin(val.Document())
		case "noCursorTimeout":
			opts.SetNoCursorTimeout(val.Boolean())
		case "projection":
			opts.SetProjection(val.Document())
		case "returnKey":
			opts.SetReturnKey(val.Boolean())
		case "showRecordId":
			opts.SetShowRecordID(val.Boolean())
		case "skip":
			opts.SetSkip(val.AsInt64())
		case "sort":
			opts.SetSort(val.Document())
		default:
			return nil, fmt.Errorf("unrecognized find option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	cursor, err := coll.Find(ctx, filter, opts)
	return &cursorResult{cursor: cursor, err: err}, nil
}

func executeCreateFindCursor(ctx context.Context, op *operation) (*operationResult, error) {
	res, err := openFindCursor(ctx, op)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return newErrorResult(res.err), nil
	}
	cursor := res.cursor

	if op.ResultEntityID == nil {
		_ = cursor.Close(ctx)
		return newEmptyResult(), nil
	}
	if err := entities(ctx).addCursorEntity(*op.ResultEntityID, cursor); err != nil {
		_ = cursor.Close(ctx)
		return nil, fmt.Errorf("error storing result as cursor entity: %v", err)
	}
	return newEmptyResult(), nil
}

func executeFind(ctx context.Context, op *operation) (*operationResult, error) {
	res, err := openFindCursor(ctx, op)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return newErrorResult(res.err), nil
	}
	cursor := res.cursor
	return drainCursor(ctx, cursor), nil
}

// newSingleDocumentResult converts the outcome of a findOneAnd* operation. No matching document is not an error.
func newSingleDocumentResult(sr *mongo.SingleResult) *operationResult {
	doc, err := sr.DecodeBytes()
	if err == mongo.ErrNoDocuments {
		return newValueResult(bsontype.Null, []byte{}, nil)
	}
	if err != nil {
		return newErrorResult(err)
	}
	return newDocumentResult(doc, nil)
}

func returnDocumentOption(val string) (options.ReturnDocument, error) {
	switch val {
	case "After":
		return options.After, nil
	case "Before":
		return options.Before, nil
	default:
		return 0, fmt.Errorf("unrecognized returnDocument value %q", val)
	}
}

func executeFindOneAndDelete(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	opts := options.FindOneAndDelete()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "projection":
			opts.SetProjection(val.Document())
		case "sort":
			opts.SetSort(val.Document())
		default:
			return nil, fmt.Errorf("unrecognized findOneAndDelete option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	return newSingleDocumentResult(coll.FindOneAndDelete(ctx, filter, opts)), nil
}

func executeFindOneAndReplace(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter, replacement bson.Raw
	opts := options.FindOneAndReplace()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "projection":
			opts.SetProjection(val.Document())
		case "replacement":
			replacement = val.Document()
		case "returnDocument":
			rd, err := returnDocumentOption(val.StringValue())
			if err != nil {
				return nil, err
			}
			opts.SetReturnDocument(rd)
		case "sort":
			opts.SetSort(val.Document())
		case "upsert":
			opts.SetUpsert(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized findOneAndReplace option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}
	if replacement == nil {
		return nil, newMissingArgumentError("replacement")
	}

	return newSingleDocumentResult(coll.FindOneAndReplace(ctx, filter, replacement, opts)), nil
}

func executeFindOneAndUpdate(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	var update interface{}
	opts := options.FindOneAndUpdate()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "arrayFilters":
			opts.SetArrayFilters(options.ArrayFilters{
				Filters: bsonutil.RawArrayToInterfaces(val.Array()),
			})
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "projection":
			opts.SetProjection(val.Document())
		case "returnDocument":
			rd, err := returnDocumentOption(val.StringValue())
			if err != nil {
				return nil, err
			}
			opts.SetReturnDocument(rd)
		case "sort":
			opts.SetSort(val.Document())
		case "update":
			update, err = createUpdateValue(val)
			if err != nil {
				return nil, fmt.Errorf("error processing update value: %v", err)
			}
		case "upsert":
			opts.SetUpsert(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized findOneAndUpdate option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}
	if update == nil {
		return nil, newMissingArgumentError("update")
	}

	return newSingleDocumentResult(coll.FindOneAndUpdate(ctx, filter, update, opts)), nil
}

func executeInsertMany(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var documents []interface{}
	opts := options.InsertMany()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "comment":
			opts.SetComment(val)
		case "documents":
			documents = bsonutil.RawArrayToInterfaces(val.Array())
		case "ordered":
			opts.SetOrdered(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized insertMany option %q", key)
		}
	}
	if documents == nil {
		return nil, newMissingArgumentError("documents")
	}

	return newInsertManyResult(coll.InsertMany(ctx, documents, opts))
}

func executeInsertOne(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var document bson.Raw
	opts := options.InsertOne()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "comment":
			opts.SetComment(val)
		case "document":
			document = val.Document()
		default:
			return nil, fmt.Errorf("unrecognized insertOne option %q", key)
		}
	}
	if document == nil {
		return nil, newMissingArgumentError("document")
	}

	return newInsertOneResult(coll.InsertOne(ctx, document, opts))
}

func executeReplaceOne(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var filter, replacement bson.Raw
	opts := options.Replace()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "bypassDocumentValidation":
			opts.SetBypassDocumentValidation(val.Boolean())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "comment":
			opts.SetComment(val)
		case "filter":
			filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			opts.SetHint(hint)
		case "let":
			opts.SetLet(val.Document())
		case "replacement":
			replacement = val.Document()
		case "upsert":
			opts.SetUpsert(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized replaceOne option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}
	if replacement == nil {
		return nil, newMissingArgumentError("replacement")
	}

	return newUpdateResult(coll.ReplaceOne(ctx, filter, replacement, opts))
}

func executeUpdateOne(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createUpdateArguments(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newUpdateResult(coll.UpdateOne(ctx, args.filter, args.update, args.opts))
}

func executeUpdateMany(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createUpdateArguments(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newUpdateResult(coll.UpdateMany(ctx, args.filter, args.update, args.opts))
}

// executeRenameCollection renames the collection within its database. Only collection entities can be renamed.
func executeRenameCollection(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var toName string
	var dropTarget bool
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "dropTarget":
			dropTarget = val.Boolean()
		case "to":
			toName = val.StringValue()
		default:
			return nil, fmt.Errorf("unrecognized rename option %q", key)
		}
	}
	if toName == "" {
		return nil, newMissingArgumentError("to")
	}

	dbName := coll.Database().Name()
	cmd := bson.D{
		{"renameCollection", dbName + "." + coll.Name()},
		{"to", dbName + "." + toName},
	}
	if dropTarget {
		cmd = append(cmd, bson.E{"dropTarget", true})
	}
	// renameCollection can only be run against the admin database.
	admin := coll.Database().Client().Database("admin")
	return newErrorResult(admin.RunCommand(ctx, cmd).Err()), nil
}
