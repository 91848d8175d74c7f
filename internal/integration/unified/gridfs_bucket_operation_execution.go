// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// fileIDArgument reads the "id" argument of delete and download. Any other argument is rejected.
func fileIDArgument(op *operation) (bson.RawValue, error) {
	var id *bson.RawValue
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return emptyRawValue, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "id":
			id = &val
		default:
			return emptyRawValue, fmt.Errorf("unrecognized bucket %s option %q", op.Name, key)
		}
	}
	if id == nil {
		return emptyRawValue, newMissingArgumentError("id")
	}
	return *id, nil
}

func executeBucketDelete(ctx context.Context, op *operation) (*operationResult, error) {
	bucket, err := entities(ctx).gridFSBucket(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := fileIDArgument(op)
	if err != nil {
		return nil, err
	}
	return newErrorResult(bucket.DeleteContext(ctx, id)), nil
}

// executeBucketDownload reads the whole file. The result is a binary value with the generic subtype.
func executeBucketDownload(ctx context.Context, op *operation) (*operationResult, error) {
	bucket, err := entities(ctx).gridFSBucket(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := fileIDArgument(op)
	if err != nil {
		return nil, err
	}

	stream, err := bucket.OpenDownloadStream(id)
	if err != nil {
		return newErrorResult(err), nil
	}
	defer func() { _ = stream.Close() }()

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, stream); err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.Binary, bsoncore.AppendBinary(nil, 0, buffer.Bytes()), nil), nil
}

// hexBytes decodes a {$$hexBytes: <string>} document.
func hexBytes(val bson.RawValue) ([]byte, error) {
	doc, ok := val.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("expected source to be a document, got %s", val.Type)
	}
	str, ok := doc.Lookup("$$hexBytes").StringValueOK()
	if !ok {
		return nil, fmt.Errorf("expected source to be a $$hexBytes document, got %s", doc)
	}
	return hex.DecodeString(str)
}

// executeBucketUpload stores the file and returns its generated ObjectID.
func executeBucketUpload(ctx context.Context, op *operation) (*operationResult, error) {
	bucket, err := entities(ctx).gridFSBucket(op.Object)
	if err != nil {
		return nil, err
	}

	var filename string
	var fileBytes []byte
	opts := options.GridFSUpload()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "chunkSizeBytes":
			opts.SetChunkSizeBytes(val.Int32())
		case "filename":
			filename = val.StringValue()
		case "metadata":
			opts.SetMetadata(val.Document())
		case "source":
			if fileBytes, err = hexBytes(val); err != nil {
				return nil, fmt.Errorf("error converting source string to bytes: %v", err)
			}
		default:
			return nil, fmt.Errorf("unrecognized bucket upload option %q", key)
		}
	}
	if filename == "" {
		return nil, newMissingArgumentError("filename")
	}
	if fileBytes == nil {
		return nil, newMissingArgumentError("source")
	}

	fileID, err := bucket.UploadFromStream(filename, bytes.NewReader(fileBytes), opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(bsontype.ObjectID, fileID[:], nil), nil
}
