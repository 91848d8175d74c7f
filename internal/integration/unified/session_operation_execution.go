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
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// verifyNoArguments returns an error if args is a non-empty document.
func verifyNoArguments(op *operation) error {
	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return err
	}
	if len(elems) > 0 {
		return fmt.Errorf("unrecognized %s option %q", op.Name, elems[0].Key())
	}
	return nil
}

func executeEndSession(ctx context.Context, op *operation) (*operationResult, error) {
	if err := verifyNoArguments(op); err != nil {
		return nil, err
	}
	if err := entities(ctx).endSession(ctx, op.Object); err != nil {
		return nil, err
	}
	return newEmptyResult(), nil
}

// parseTransactionOptions converts the arguments document to transaction options. A missing document gives default
// options.
func parseTransactionOptions(args bson.Raw) (*options.TransactionOptions, error) {
	if len(args) == 0 {
		return options.Transaction(), nil
	}
	var temp transactionOptions
	if err := bson.Unmarshal(args, &temp); err != nil {
		return nil, fmt.Errorf("error unmarshalling arguments to transactionOptions: %v", err)
	}
	return temp.TransactionOptions, nil
}

func executeStartTransaction(ctx context.Context, op *operation) (*operationResult, error) {
	sess, err := entities(ctx).session(op.Object)
	if err != nil {
		return nil, err
	}
	opts, err := parseTransactionOptions(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newErrorResult(sess.StartTransaction(opts)), nil
}

func executeCommitTransaction(ctx context.Context, op *operation) (*operationResult, error) {
	sess, err := entities(ctx).session(op.Object)
	if err != nil {
		return nil, err
	}
	if err := verifyNoArguments(op); err != nil {
		return nil, err
	}
	return newErrorResult(sess.CommitTransaction(ctx)), nil
}

func executeAbortTransaction(ctx context.Context, op *operation) (*operationResult, error) {
	sess, err := entities(ctx).session(op.Object)
	if err != nil {
		return nil, err
	}
	if err := verifyNoArguments(op); err != nil {
		return nil, err
	}
	return newErrorResult(sess.AbortTransaction(ctx)), nil
}

// callbackError marks a failure of one of the operations in a withTransaction callback. It fails the test instead of
// being reported as the result of withTransaction.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }

func executeWithTransaction(ctx context.Context, op *operation) (*operationResult, error) {
	sess, err := entities(ctx).session(op.Object)
	if err != nil {
		return nil, err
	}

	callback, err := op.Arguments.LookupErr("callback")
	if err != nil {
		return nil, newMissingArgumentError("callback")
	}
	arr, ok := callback.ArrayOK()
	if !ok {
		return nil, fmt.Errorf("expected callback to be an array, got %s", callback.Type)
	}
	ops, err := parseOperations(arr)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing callback operations")
	}

	opts, err := parseTransactionOptions(bsonutil.RemoveFieldsFromDocument(op.Arguments, "callback"))
	if err != nil {
		return nil, err
	}

	_, err = sess.WithTransaction(ctx, func(mongo.SessionContext) (interface{}, error) {
		// Callback operations name their session explicitly, so they run with the test context.
		if err := executeOperations(ctx, ops); err != nil {
			return nil, &callbackError{err: err}
		}
		return nil, nil
	}, opts)

	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		return nil, cbErr.err
	}
	return newErrorResult(err), nil
}
