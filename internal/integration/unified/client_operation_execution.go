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
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// This file contains helpers to execute client operations.

type watcher interface {
	Watch(context.Context, interface{}, ...*options.ChangeStreamOptions) (*mongo.ChangeStream, error)
}

// resolveWatcher finds the client, database or collection entity a change stream is opened on.
func resolveWatcher(ctx context.Context, id string) (watcher, error) {
	e, err := entities(ctx).lookup(id)
	if err != nil {
		return nil, err
	}
	switch typed := e.(type) {
	case *clientEntity:
		return typed.Client, nil
	case *databaseEntity:
		return typed.Database, nil
	case *collectionEntity:
		return typed.Collection, nil
	default:
		return nil, fmt.Errorf("entity %q of type %s cannot open a change stream", id, e.kind())
	}
}

func executeCreateChangeStream(ctx context.Context, op *operation) (*operationResult, error) {
	target, err := resolveWatcher(ctx, op.Object)
	if err != nil {
		return nil, err
	}

	var pipeline []interface{}
	opts := options.ChangeStream()

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
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(*collation)
		case "comment":
			comment, err := createCommentString(val)
			if err != nil {
				return nil, fmt.Errorf("error creating comment: %v", err)
			}
			opts.SetComment(comment)
		case "fullDocument":
			fd, err := fullDocumentOption(val.StringValue())
			if err != nil {
				return nil, err
			}
			opts.SetFullDocument(fd)
		case "fullDocumentBeforeChange":
			fd, err := fullDocumentOption(val.StringValue())
			if err != nil {
				return nil, err
			}
			opts.SetFullDocumentBeforeChange(fd)
		case "maxAwaitTimeMS":
			opts.SetMaxAwaitTime(millis(val))
		case "pipeline":
			docs, err := bsonutil.RawToDocuments(val.Array())
			if err != nil {
				return nil, fmt.Errorf("error reading pipeline: %v", err)
			}
			pipeline = bsonutil.RawToInterfaces(docs...)
		case "resumeAfter":
			opts.SetResumeAfter(val.Document())
		case "showExpandedEvents":
			opts.SetShowExpandedEvents(val.Boolean())
		case "startAfter":
			opts.SetStartAfter(val.Document())
		case "startAtOperationTime":
			t, i := val.Timestamp()
			opts.SetStartAtOperationTime(&primitive.Timestamp{T: t, I: i})
		default:
			return nil, fmt.Errorf("unrecognized createChangeStream option %q", key)
		}
	}
	if pipeline == nil {
		return nil, newMissingArgumentError("pipeline")
	}

	stream, err := target.Watch(ctx, pipeline, opts)
	if err != nil {
		return newErrorResult(err), nil
	}

	// createChangeStream is sometimes used with no corresponding saveResultAsEntity field.
	if op.ResultEntityID == nil {
		_ = stream.Close(ctx)
		return newEmptyResult(), nil
	}
	if err := entities(ctx).addCursorEntity(*op.ResultEntityID, stream); err != nil {
		_ = stream.Close(ctx)
		return nil, fmt.Errorf("error storing result as cursor entity: %v", err)
	}
	return newEmptyResult(), nil
}

func fullDocumentOption(val string) (options.FullDocument, error) {
	switch fd := options.FullDocument(val); fd {
	case options.Default, options.Off, options.Required, options.UpdateLookup, options.WhenAvailable:
		return fd, nil
	default:
		return "", fmt.Errorf("unrecognized fullDocument value %q", val)
	}
}

type listDatabasesArguments struct {
	filter bson.Raw
	opts   *options.ListDatabasesOptions
}

func createListDatabasesArguments(op *operation) (*listDatabasesArguments, error) {
	// A default filter is used because drivers should, not must, support the filter field.
	lda := &listDatabasesArguments{
		filter: emptyDocument,
		opts:   options.ListDatabases(),
	}

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "authorizedDatabases":
			lda.opts.SetAuthorizedDatabases(val.Boolean())
		case "filter":
			lda.filter = val.Document()
		case "nameOnly":
			lda.opts.SetNameOnly(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized %s option %q", op.Name, key)
		}
	}
	return lda, nil
}

func executeListDatabases(ctx context.Context, op *operation) (*operationResult, error) {
	client, err := entities(ctx).client(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createListDatabasesArguments(op)
	if err != nil {
		return nil, err
	}

	res, err := client.ListDatabases(ctx, args.filter, args.opts)
	if err != nil {
		return newErrorResult(err), nil
	}

	specs := make([]bson.Raw, 0, len(res.Databases))
	for _, spec := range res.Databases {
		specs = append(specs, bson.Raw(bsoncore.NewDocumentBuilder().
			AppendString("name", spec.Name).
			AppendInt64("sizeOnDisk", spec.SizeOnDisk).
			AppendBoolean("empty", spec.Empty).
			Build()))
	}
	return newCursorResult(specs), nil
}

func executeListDatabaseNames(ctx context.Context, op *operation) (*operationResult, error) {
	client, err := entities(ctx).client(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createListDatabasesArguments(op)
	if err != nil {
		return nil, err
	}

	names, err := client.ListDatabaseNames(ctx, args.filter, args.opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newStringArrayResult(names)
}

// newStringArrayResult creates a value result holding an array of strings.
func newStringArrayResult(vals []string) (*operationResult, error) {
	if vals == nil {
		vals = []string{}
	}
	t, data, err := bson.MarshalValue(vals)
	if err != nil {
		return nil, fmt.Errorf("error converting %v to BSON: %v", vals, err)
	}
	return newValueResult(t, data, nil), nil
}
