// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// This file contains helpers to execute index and search index operations on collections.

func executeCreateIndex(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var keys bson.Raw
	indexOpts := options.Index()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "2dsphereIndexVersion":
			indexOpts.SetSphereVersion(val.Int32())
		case "bits":
			indexOpts.SetBits(val.Int32())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			indexOpts.SetCollation(collation)
		case "defaultLanguage":
			indexOpts.SetDefaultLanguage(val.StringValue())
		case "expireAfterSeconds":
			indexOpts.SetExpireAfterSeconds(int32(val.AsInt64()))
		case "hidden":
			indexOpts.SetHidden(val.Boolean())
		case "keys":
			keys = val.Document()
		case "languageOverride":
			indexOpts.SetLanguageOverride(val.StringValue())
		case "max":
			indexOpts.SetMax(val.AsFloat64())
		case "min":
			indexOpts.SetMin(val.AsFloat64())
		case "name":
			indexOpts.SetName(val.StringValue())
		case "partialFilterExpression":
			indexOpts.SetPartialFilterExpression(val.Document())
		case "sparse":
			indexOpts.SetSparse(val.Boolean())
		case "storageEngine":
			indexOpts.SetStorageEngine(val.Document())
		case "textIndexVersion":
			indexOpts.SetTextVersion(val.Int32())
		case "unique":
			indexOpts.SetUnique(val.Boolean())
		case "version":
			indexOpts.SetVersion(val.Int32())
		case "weights":
			indexOpts.SetWeights(val.Document())
		case "wildcardProjection":
			indexOpts.SetWildcardProjection(val.Document())
		default:
			return nil, fmt.Errorf("unrecognized createIndex option %q", key)
		}
	}
	if keys == nil {
		return nil, newMissingArgumentError("keys")
	}

	name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: indexOpts,
	})
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.String, bsoncore.AppendString(nil, name), nil), nil
}

func executeDropIndex(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var name string
	opts := options.DropIndexes()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		case "name":
			name = val.StringValue()
		default:
			return nil, fmt.Errorf("unrecognized dropIndex option %q", key)
		}
	}
	if name == "" {
		return nil, newMissingArgumentError("name")
	}

	return newReplyResult(coll.Indexes().DropOne(ctx, name, opts)), nil
}

// executeListIndexes lists the indexes of a collection entity. Unknown arguments are rejected because the driver only
// supports batchSize.
func executeListIndexes(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	opts := options.ListIndexes()
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "batchSize":
			opts.SetBatchSize(val.Int32())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		default:
			return nil, fmt.Errorf("unrecognized listIndexes option %q", key)
		}
	}

	cursor, err := coll.Indexes().List(ctx, opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return drainCursor(ctx, cursor), nil
}

// createSearchIndexModel converts a {name, type, definition} document to a SearchIndexModel.
func createSearchIndexModel(doc bson.Raw) (mongo.SearchIndexModel, error) {
	var model mongo.SearchIndexModel
	opts := options.SearchIndexes()

	elems, err := doc.Elements()
	if err != nil {
		return model, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "definition":
			model.Definition = val.Document()
		case "name":
			opts.SetName(val.StringValue())
		case "type":
			opts.SetType(val.StringValue())
		default:
			return model, fmt.Errorf("unrecognized search index model field %q", key)
		}
	}
	if model.Definition == nil {
		return model, newMissingArgumentError("definition")
	}
	model.Options = opts
	return model, nil
}

func executeCreateSearchIndex(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var model *mongo.SearchIndexModel
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "model":
			m, err := createSearchIndexModel(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating search index model: %v", err)
			}
			model = &m
		default:
			return nil, fmt.Errorf("unrecognized createSearchIndex option %q", key)
		}
	}
	if model == nil {
		return nil, newMissingArgumentError("model")
	}

	name, err := coll.SearchIndexes().CreateOne(ctx, *model)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.String, bsoncore.AppendString(nil, name), nil), nil
}

func executeCreateSearchIndexes(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var models []mongo.SearchIndexModel
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "models":
			vals, err := val.Array().Values()
			if err != nil {
				return nil, err
			}
			models = make([]mongo.SearchIndexModel, 0, len(vals))
			for idx, v := range vals {
				m, err := createSearchIndexModel(v.Document())
				if err != nil {
					return nil, fmt.Errorf("error creating search index model at index %d: %v", idx, err)
				}
				models = append(models, m)
			}
		default:
			return nil, fmt.Errorf("unrecognized createSearchIndexes option %q", key)
		}
	}
	if models == nil {
		return nil, newMissingArgumentError("models")
	}

	names, err := coll.SearchIndexes().CreateMany(ctx, models)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newStringArrayResult(names)
}

func executeDropSearchIndex(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var name string
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		switch key := elem.Key(); key {
		case "name":
			name = elem.Value().StringValue()
		default:
			return nil, fmt.Errorf("unrecognized dropSearchIndex option %q", key)
		}
	}
	if name == "" {
		return nil, newMissingArgumentError("name")
	}

	return newErrorResult(coll.SearchIndexes().DropOne(ctx, name)), nil
}

func executeListSearchIndexes(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	searchIdxOpts := options.SearchIndexes()
	var listOpts *options.ListSearchIndexesOptions

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "name":
			searchIdxOpts.SetName(val.StringValue())
		case "aggregationOptions":
			aggOpts, err := createSearchAggregationOptions(val.Document())
			if err != nil {
				return nil, err
			}
			listOpts = &options.ListSearchIndexesOptions{AggregateOpts: aggOpts}
		default:
			return nil, fmt.Errorf("unrecognized listSearchIndexes option %q", key)
		}
	}

	var cursor *mongo.Cursor
	if listOpts != nil {
		cursor, err = coll.SearchIndexes().List(ctx, searchIdxOpts, listOpts)
	} else {
		cursor, err = coll.SearchIndexes().List(ctx, searchIdxOpts)
	}
	if err != nil {
		return newErrorResult(err), nil
	}
	return drainCursor(ctx, cursor), nil
}

func createSearchAggregationOptions(doc bson.Raw) (*options.AggregateOptions, error) {
	opts := options.Aggregate()
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "batchSize":
			opts.SetBatchSize(val.Int32())
		case "maxTimeMS":
			opts.SetMaxTime(millis(val))
		default:
			return nil, fmt.Errorf("unrecognized aggregationOptions field %q", key)
		}
	}
	return opts, nil
}

func executeUpdateSearchIndex(ctx context.Context, op *operation) (*operationResult, error) {
	coll, err := entities(ctx).collection(op.Object)
	if err != nil {
		return nil, err
	}

	var name string
	var definition bson.Raw
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "name":
			name = val.StringValue()
		case "definition":
			definition = val.Document()
		default:
			return nil, fmt.Errorf("unrecognized updateSearchIndex option %q", key)
		}
	}
	if name == "" {
		return nil, newMissingArgumentError("name")
	}
	if definition == nil {
		return nil, newMissingArgumentError("definition")
	}

	return newErrorResult(coll.SearchIndexes().UpdateOne(ctx, name, definition)), nil
}
