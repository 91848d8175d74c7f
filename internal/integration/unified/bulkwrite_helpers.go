// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// writeModelArgs holds every field a bulk write request may carry. Which fields are legal depends on the request
// type and is enforced by bulkWriteRequestFields.
type writeModelArgs struct {
	document     bson.Raw
	filter       bson.Raw
	update       interface{}
	replacement  bson.Raw
	upsert       *bool
	hint         interface{}
	collation    *options.Collation
	arrayFilters *options.ArrayFilters
}

var bulkWriteRequestFields = map[string][]string{
	"insertOne":  {"document"},
	"updateOne":  {"filter", "update", "upsert", "hint", "collation", "arrayFilters"},
	"updateMany": {"filter", "update", "upsert", "hint", "collation", "arrayFilters"},
	"replaceOne": {"filter", "replacement", "upsert", "hint", "collation"},
	"deleteOne":  {"filter", "hint", "collation"},
	"deleteMany": {"filter", "hint", "collation"},
}

// createBulkWriteModels converts a BSON array of requests to a slice of WriteModel. Each request must be a document of
// the form {requestType: {field: value, ...}}, e.g. {insertOne: {document: {x: 1}}}.
func createBulkWriteModels(rawModels bson.Raw) ([]mongo.WriteModel, error) {
	vals, err := rawModels.Values()
	if err != nil {
		return nil, err
	}

	models := make([]mongo.WriteModel, 0, len(vals))
	for idx, val := range vals {
		doc, ok := val.DocumentOK()
		if !ok {
			return nil, fmt.Errorf("expected request at index %d to be a document, got %s", idx, val.Type)
		}
		model, err := createBulkWriteModel(doc)
		if err != nil {
			return nil, fmt.Errorf("error creating model at index %d: %v", idx, err)
		}
		models = append(models, model)
	}
	return models, nil
}

func createBulkWriteModel(rawModel bson.Raw) (mongo.WriteModel, error) {
	elems, err := rawModel.Elements()
	if err != nil {
		return nil, err
	}
	if len(elems) != 1 {
		return nil, fmt.Errorf("expected exactly one request type, got %d keys", len(elems))
	}

	requestType := elems[0].Key()
	allowed, ok := bulkWriteRequestFields[requestType]
	if !ok {
		return nil, fmt.Errorf("unrecognized bulk write request type %q", requestType)
	}
	args, ok := elems[0].Value().DocumentOK()
	if !ok {
		return nil, fmt.Errorf("expected %s request to be a document", requestType)
	}
	wma, err := parseWriteModelArgs(requestType, args, allowed)
	if err != nil {
		return nil, err
	}

	if requestType == "insertOne" {
		if wma.document == nil {
			return nil, newMissingArgumentError("document")
		}
		return mongo.NewInsertOneModel().SetDocument(wma.document), nil
	}

	if wma.filter == nil {
		return nil, newMissingArgumentError("filter")
	}
	switch requestType {
	case "updateOne", "updateMany":
		if wma.update == nil {
			return nil, newMissingArgumentError("update")
		}
		if requestType == "updateOne" {
			m := mongo.NewUpdateOneModel().SetFilter(wma.filter).SetUpdate(wma.update)
			if wma.upsert != nil {
				m.SetUpsert(*wma.upsert)
			}
			if wma.hint != nil {
				m.SetHint(wma.hint)
			}
			if wma.collation != nil {
				m.SetCollation(wma.collation)
			}
			if wma.arrayFilters != nil {
				m.SetArrayFilters(*wma.arrayFilters)
			}
			return m, nil
		}
		m := mongo.NewUpdateManyModel().SetFilter(wma.filter).SetUpdate(wma.update)
		if wma.upsert != nil {
			m.SetUpsert(*wma.upsert)
		}
		if wma.hint != nil {
			m.SetHint(wma.hint)
		}
		if wma.collation != nil {
			m.SetCollation(wma.collation)
		}
		if wma.arrayFilters != nil {
			m.SetArrayFilters(*wma.arrayFilters)
		}
		return m, nil
	case "replaceOne":
		if wma.replacement == nil {
			return nil, newMissingArgumentError("replacement")
		}
		m := mongo.NewReplaceOneModel().SetFilter(wma.filter).SetReplacement(wma.replacement)
		if wma.upsert != nil {
			m.SetUpsert(*wma.upsert)
		}
		if wma.hint != nil {
			m.SetHint(wma.hint)
		}
		if wma.collation != nil {
			m.SetCollation(wma.collation)
		}
		return m, nil
	case "deleteOne":
		m := mongo.NewDeleteOneModel().SetFilter(wma.filter)
		if wma.hint != nil {
			m.SetHint(wma.hint)
		}
		if wma.collation != nil {
			m.SetCollation(wma.collation)
		}
		return m, nil
	default:
		m := mongo.NewDeleteManyModel().SetFilter(wma.filter)
		if wma.hint != nil {
			m.SetHint(wma.hint)
		}
		if wma.collation != nil {
			m.SetCollation(wma.collation)
		}
		return m, nil
	}
}

func parseWriteModelArgs(requestType string, args bson.Raw, allowed []string) (*writeModelArgs, error) {
	elems, err := args.Elements()
	if err != nil {
		return nil, err
	}

	var wma writeModelArgs
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()
		if !containsString(allowed, key) {
			return nil, fmt.Errorf("unrecognized %s option %q", requestType, key)
		}

		switch key {
		case "document":
			wma.document = val.Document()
		case "filter":
			wma.filter = val.Document()
		case "update":
			wma.update, err = createUpdateValue(val)
			if err != nil {
				return nil, fmt.Errorf("error processing update value: %v", err)
			}
		case "replacement":
			wma.replacement = val.Document()
		case "upsert":
			upsert := val.Boolean()
			wma.upsert = &upsert
		case "hint":
			wma.hint, err = createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
		case "collation":
			wma.collation, err = createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
		case "arrayFilters":
			wma.arrayFilters = &options.ArrayFilters{
				Filters: bsonutil.RawArrayToInterfaces(val.Array()),
			}
		}
	}
	return &wma, nil
}
