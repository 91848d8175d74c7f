// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"time"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// This file contains helpers to execute database operations.

func executeCreateView(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}

	var collName, viewOn string
	pipeline := make([]interface{}, 0)
	opts := options.CreateView()

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
		case "collection":
			collName = val.StringValue()
		case "pipeline":
			pipeline = bsonutil.RawArrayToInterfaces(val.Array())
		case "viewOn":
			viewOn = val.StringValue()
		default:
			return nil, fmt.Errorf("unrecognized createView option %q", key)
		}
	}
	if collName == "" {
		return nil, newMissingArgumentError("collection")
	}

	return newErrorResult(db.CreateView(ctx, collName, viewOn, pipeline, opts)), nil
}

// executeCreateCollection creates a collection, or a view when viewOn is given. The driver has a separate method for
// views while the test format does not.
func executeCreateCollection(ctx context.Context, op *operation) (*operationResult, error) {
	if _, err := op.Arguments.LookupErr("viewOn"); err == nil {
		return executeCreateView(ctx, op)
	}

	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}

	var collName string
	opts := options.CreateCollection()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "capped":
			opts.SetCapped(val.Boolean())
		case "changeStreamPreAndPostImages":
			opts.SetChangeStreamPreAndPostImages(val.Document())
		case "clusteredIndex":
			opts.SetClusteredIndex(val.Document())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			opts.SetCollation(collation)
		case "collection":
			collName = val.StringValue()
		case "encryptedFields":
			opts.SetEncryptedFields(val.Document())
		case "expireAfterSeconds":
			opts.SetExpireAfterSeconds(val.AsInt64())
		case "indexOptionDefaults":
			opts.SetIndexOptionDefaults(val.Document())
		case "max":
			opts.SetMaxDocuments(val.AsInt64())
		case "size":
			opts.SetSizeInBytes(val.AsInt64())
		case "storageEngine":
			opts.SetStorageEngine(val.Document())
		case "timeseries":
			tso, err := createTimeSeriesOptions(val.Document())
			if err != nil {
				return nil, err
			}
			opts.SetTimeSeriesOptions(tso)
		case "validationAction":
			opts.SetValidationAction(val.StringValue())
		case "validationLevel":
			opts.SetValidationLevel(val.StringValue())
		case "validator":
			opts.SetValidator(val.Document())
		default:
			return nil, fmt.Errorf("unrecognized createCollection option %q", key)
		}
	}
	if collName == "" {
		return nil, newMissingArgumentError("collection")
	}

	return newErrorResult(db.CreateCollection(ctx, collName, opts)), nil
}

func createTimeSeriesOptions(doc bson.Raw) (*options.TimeSeriesOptions, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}

	tso := options.TimeSeries()
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "timeField":
			tso.SetTimeField(val.StringValue())
		case "metaField":
			tso.SetMetaField(val.StringValue())
		case "granularity":
			tso.SetGranularity(val.StringValue())
		case "bucketMaxSpanSeconds":
			tso.SetBucketMaxSpan(time.Duration(val.AsInt64()) * time.Second)
		case "bucketRoundingSeconds":
			tso.SetBucketRounding(time.Duration(val.AsInt64()) * time.Second)
		default:
			return nil, fmt.Errorf("unrecognized timeseries option %q", key)
		}
	}
	return tso, nil
}

func executeDropCollection(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}

	var collName string
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "collection":
			collName = val.StringValue()
		case "encryptedFields":
			// The driver looks encrypted fields up from the collection options, so the argument is not needed.
		default:
			return nil, fmt.Errorf("unrecognized dropCollection option %q", key)
		}
	}
	if collName == "" {
		return nil, newMissingArgumentError("collection")
	}

	return newErrorResult(db.Collection(collName).Drop(ctx)), nil
}

func executeListCollections(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createListCollectionsArguments(op.Arguments)
	if err != nil {
		return nil, err
	}

	cursor, err := db.ListCollections(ctx, args.filter, args.opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return drainCursor(ctx, cursor), nil
}

func executeListCollectionNames(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}
	args, err := createListCollectionsArguments(op.Arguments)
	if err != nil {
		return nil, err
	}

	names, err := db.ListCollectionNames(ctx, args.filter, args.opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newStringArrayResult(names)
}

// executeRunCommand runs a generic command. The reply is also the result value. The driver cannot override read or
// write concerns for RunCommand, so they are appended to the command document.
func executeRunCommand(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}

	var command bson.Raw
	var extra []bsoncore.Element
	opts := options.RunCmd()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "command":
			command = val.Document()
		case "commandName":
			// Only needed by languages that cannot preserve key order in the command document.
		case "readConcern", "writeConcern":
			extra = append(extra, bsoncore.Element(elem))
		case "readPreference":
			var temp ReadPreference
			if err := bson.Unmarshal(val.Document(), &temp); err != nil {
				return nil, fmt.Errorf("error unmarshalling readPreference option: %v", err)
			}
			rp, err := temp.ToReadPrefOption()
			if err != nil {
				return nil, fmt.Errorf("error creating readpref.ReadPref object: %v", err)
			}
			opts.SetReadPreference(rp)
		default:
			return nil, fmt.Errorf("unrecognized runCommand option %q", key)
		}
	}
	if command == nil {
		return nil, newMissingArgumentError("command")
	}
	if len(extra) > 0 {
		command = appendCommandElements(command, extra)
	}

	return newReplyResult(db.RunCommand(ctx, command, opts).DecodeBytes()), nil
}

// appendCommandElements returns a copy of cmd with elems appended. Fields already present in cmd win.
func appendCommandElements(cmd bson.Raw, elems []bsoncore.Element) bson.Raw {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = append(doc, cmd[4:len(cmd)-1]...)
	for _, elem := range elems {
		if _, err := cmd.LookupErr(elem.Key()); err == nil {
			continue
		}
		doc = append(doc, elem...)
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bson.Raw(doc)
}

// executeModifyCollection sends collMod for the named collection. Every other argument is forwarded unchanged.
func executeModifyCollection(ctx context.Context, op *operation) (*operationResult, error) {
	db, err := entities(ctx).database(op.Object)
	if err != nil {
		return nil, err
	}

	collName, ok := op.Arguments.Lookup("collection").StringValueOK()
	if !ok {
		return nil, newMissingArgumentError("collection")
	}

	cmd := bsoncore.NewDocumentBuilder().AppendString("collMod", collName)
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		if elem.Key() == "collection" {
			continue
		}
		val := elem.Value()
		cmd.AppendValue(elem.Key(), bsoncore.Value{Type: val.Type, Data: val.Value})
	}

	reply, err := db.RunCommand(ctx, bson.Raw(cmd.Build())).DecodeBytes()
	res := newErrorResult(err)
	res.reply = reply
	return res, nil
}
