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
)

// executeClose closes a change stream or find cursor and removes it from the entity map.
func executeClose(ctx context.Context, op *operation) (*operationResult, error) {
	if _, err := entities(ctx).cursor(op.Object); err != nil {
		return nil, err
	}

	// Errors from closing a cursor are not reported to the test.
	_ = entities(ctx).deleteEntity(ctx, op.Object)
	return newEmptyResult(), nil
}

func executeIterateUntilDocumentOrError(ctx context.Context, op *operation) (*operationResult, error) {
	cursor, err := entities(ctx).cursor(op.Object)
	if err != nil {
		return nil, err
	}

	// Next blocks until there is either a document or an error. For a change stream it keeps issuing getMore
	// commands while the batches are empty.
	if cursor.Next(ctx) {
		// Malformed documents are not expected from the server, so decode errors are fatal.
		var doc bson.Raw
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding cursor result: %v", err)
		}
		return newDocumentResult(doc, nil), nil
	}
	return newErrorResult(cursor.Err()), nil
}
