// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"time"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newMissingArgumentError creates an error to convey that an argument that is required to run an operation is missing
// from the operation's arguments document.
func newMissingArgumentError(arg string) error {
	return fmt.Errorf("operation arguments document is missing required field %q", arg)
}

// argumentElements returns the elements of an arguments document. Operations without arguments have a nil document.
func argumentElements(args bson.Raw) ([]bson.RawElement, error) {
	if args == nil {
		return nil, nil
	}
	return args.Elements()
}

// millis converts a numeric milliseconds argument to a time.Duration.
func millis(val bson.RawValue) time.Duration {
	return time.Duration(val.AsInt64()) * time.Millisecond
}

type updateArguments struct {
	filter bson.Raw
	update interface{}
	opts   *options.UpdateOptions
}

func createUpdateArguments(args bson.Raw) (*updateArguments, error) {
	ua := &updateArguments{
		opts: options.Update(),
	}

	elems, err := argumentElements(args)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "arrayFilters":
			ua.opts.SetArrayFilters(options.ArrayFilters{
				Filters: bsonutil.RawArrayToInterfaces(val.Array()),
			})
		case "bypassDocumentValidation":
			ua.opts.SetBypassDocumentValidation(val.Boolean())
		case "collation":
			collation, err := createCollation(val.Document())
			if err != nil {
				return nil, fmt.Errorf("error creating collation: %v", err)
			}
			ua.opts.SetCollation(collation)
		case "comment":
			ua.opts.SetComment(val)
		case "filter":
			ua.filter = val.Document()
		case "hint":
			hint, err := createHint(val)
			if err != nil {
				return nil, fmt.Errorf("error creating hint: %v", err)
			}
			ua.opts.SetHint(hint)
		case "let":
			ua.opts.SetLet(val.Document())
		case "update":
			ua.update, err = createUpdateValue(val)
			if err != nil {
				return nil, fmt.Errorf("error processing update value: %v", err)
			}
		case "upsert":
			ua.opts.SetUpsert(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized update option %q", key)
		}
	}
	if ua.filter == nil {
		return nil, newMissingArgumentError("filter")
	}
	if ua.update == nil {
		return nil, newMissingArgumentError("update")
	}
	return ua, nil
}

type listCollectionsArguments struct {
	filter bson.Raw
	opts   *options.ListCollectionsOptions
}

func createListCollectionsArguments(args bson.Raw) (*listCollectionsArguments, error) {
	lca := &listCollectionsArguments{
		filter: emptyDocument,
		opts:   options.ListCollections(),
	}

	elems, err := argumentElements(args)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "batchSize":
			lca.opts.SetBatchSize(val.Int32())
		case "filter":
			lca.filter = val.Document()
		case "nameOnly":
			lca.opts.SetNameOnly(val.Boolean())
		case "authorizedCollections":
			lca.opts.SetAuthorizedCollections(val.Boolean())
		default:
			return nil, fmt.Errorf("unrecognized listCollections option %q", key)
		}
	}
	return lca, nil
}

func createCollation(args bson.Raw) (*options.Collation, error) {
	var collation options.Collation
	elems, err := args.Elements()
	if err != nil {
		return nil, err
	}

	for _, elem := range elems {
		val := elem.Value()
		switch elem.Key() {
		case "locale":
			collation.Locale = val.StringValue()
		case "caseLevel":
			collation.CaseLevel = val.Boolean()
		case "caseFirst":
			collation.CaseFirst = val.StringValue()
		case "strength":
			collation.Strength = int(val.AsInt64())
		case "numericOrdering":
			collation.NumericOrdering = val.Boolean()
		case "alternate":
			collation.Alternate = val.StringValue()
		case "maxVariable":
			collation.MaxVariable = val.StringValue()
		case "normalization":
			collation.Normalization = val.Boolean()
		case "backwards":
			collation.Backwards = val.Boolean()
		default:
			return nil, fmt.Errorf("unrecognized collation option %q", elem.Key())
		}
	}
	return &collation, nil
}

func createHint(val bson.RawValue) (interface{}, error) {
	switch val.Type {
	case bsontype.String:
		return val.StringValue(), nil
	case bsontype.EmbeddedDocument:
		return val.Document(), nil
	default:
		return nil, fmt.Errorf("unrecognized hint value type %s", val.Type)
	}
}

// createCommentString converts a comment argument to the string accepted by the find, aggregate and count options.
// Document comments are rendered as extended JSON.
func createCommentString(val bson.RawValue) (string, error) {
	switch val.Type {
	case bsontype.String:
		return val.StringValue(), nil
	case bsontype.EmbeddedDocument:
		return val.Document().String(), nil
	default:
		return "", fmt.Errorf("unrecognized 'comment' value type: %T", val)
	}
}

// createUpdateValue converts the provided RawValue to a value that can be passed to update functions. This helper
// handles both document and pipeline-style updates.
func createUpdateValue(updateVal bson.RawValue) (interface{}, error) {
	switch updateVal.Type {
	case bsontype.EmbeddedDocument:
		return updateVal.Document(), nil
	case bsontype.Array:
		docs, err := bsonutil.RawToDocuments(updateVal.Array())
		if err != nil {
			return nil, err
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("unrecognized update type: %s", updateVal.Type)
	}
}
