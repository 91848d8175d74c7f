// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsonutil contains helpers for working with raw BSON documents in test files and driver replies.
package bsonutil

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// RemoveFieldsFromDocument returns a copy of doc with the given top-level keys removed.
func RemoveFieldsFromDocument(doc bson.Raw, keys ...string) bson.Raw {
	remove := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		remove[key] = struct{}{}
	}

	idx, newDoc := bsoncore.AppendDocumentStart(nil)
	elems, _ := doc.Elements()
	for _, elem := range elems {
		if _, ok := remove[elem.Key()]; ok {
			continue
		}
		newDoc = append(newDoc, elem...)
	}
	newDoc, _ = bsoncore.AppendDocumentEnd(newDoc, idx)
	return bson.Raw(newDoc)
}

// RawToDocuments converts a bson.Raw that is internally an array of documents to []bson.Raw.
func RawToDocuments(arr bson.Raw) ([]bson.Raw, error) {
	values, err := arr.Values()
	if err != nil {
		return nil, errors.Wrap(err, "error converting BSON array to values")
	}

	out := make([]bson.Raw, 0, len(values))
	for idx, val := range values {
		doc, ok := val.DocumentOK()
		if !ok {
			return nil, errors.Errorf("expected array element %d to be a document, got %s", idx, val.Type)
		}
		out = append(out, doc)
	}
	return out, nil
}

// RawToInterfaces takes one or many bson.Raw documents and returns them as a []interface{}.
func RawToInterfaces(docs ...bson.Raw) []interface{} {
	out := make([]interface{}, len(docs))
	for i := range docs {
		out[i] = docs[i]
	}
	return out
}

// RawArrayToInterfaces converts each value of a BSON array into an interface{} holding its bson.RawValue.
func RawArrayToInterfaces(arr bson.Raw) []interface{} {
	values, _ := arr.Values()
	out := make([]interface{}, 0, len(values))
	for _, val := range values {
		out = append(out, val)
	}
	return out
}

// StringSlice converts a BSON array of strings to a []string.
func StringSlice(arr bson.Raw) ([]string, error) {
	values, err := arr.Values()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(values))
	for idx, val := range values {
		str, ok := val.StringValueOK()
		if !ok {
			return nil, errors.Errorf("expected array element %d to be a string, got %s", idx, val.Type)
		}
		out = append(out, str)
	}
	return out, nil
}

// SortedCopy returns a copy of doc with its top-level keys in ascending order. Nested values are copied as-is.
func SortedCopy(doc bson.Raw) (bson.Raw, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(elems, func(i, j int) bool {
		return elems[i].Key() < elems[j].Key()
	})

	idx, sorted := bsoncore.AppendDocumentStart(nil)
	for _, elem := range elems {
		sorted = append(sorted, elem...)
	}
	sorted, err = bsoncore.AppendDocumentEnd(sorted, idx)
	if err != nil {
		return nil, err
	}
	return bson.Raw(sorted), nil
}

// DocumentsToArray builds a BSON array from the given documents.
func DocumentsToArray(docs []bson.Raw) bson.Raw {
	builder := bsoncore.NewArrayBuilder()
	for _, doc := range docs {
		builder.AppendDocument(doc)
	}
	return bson.Raw(builder.Build())
}

// ExtJSON renders a BSON document as relaxed extended JSON. Invalid documents are rendered with the error text so
// they can still be included in diagnostics.
func ExtJSON(doc bson.Raw) string {
	if len(doc) == 0 {
		return "{}"
	}
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "<invalid BSON: " + err.Error() + ">"
	}
	return string(out)
}

// ArrayExtJSON renders a BSON array as relaxed extended JSON.
func ArrayExtJSON(arr bson.Raw) string {
	val := bson.RawValue{Type: bson.TypeArray, Value: arr}
	return val.String()
}

// PrettyExtJSON renders a BSON document as indented relaxed extended JSON.
func PrettyExtJSON(doc bson.Raw) []byte {
	return pretty.Pretty([]byte(ExtJSON(doc)))
}
