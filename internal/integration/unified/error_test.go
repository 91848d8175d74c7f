// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestVerifyOperationError(t *testing.T) {
	ctx := newTestingContext(t)

	boolPtr := func(b bool) *bool { return &b }
	strPtr := func(s string) *string { return &s }
	int32Ptr := func(i int32) *int32 { return &i }

	cmdErr := mongo.CommandError{
		Code:    11000,
		Name:    "DuplicateKey",
		Message: "E11000 duplicate key error",
		Labels:  []string{"RetryableWriteError"},
	}
	writeErr := mongo.WriteException{
		WriteErrors: mongo.WriteErrors{
			{Code: 121, Message: "Document failed validation", Raw: marshalDoc(t, bson.D{{"codeName", "DocumentValidationFailure"}})},
		},
	}
	clientErr := errors.New("cannot do that")

	testCases := []struct {
		name     string
		expected *expectedError
		err      error
		matches  bool
	}{
		{"no error expected and none raised", nil, nil, true},
		{"no error expected but one raised", nil, clientErr, false},
		{"error expected but none raised", &expectedError{IsError: boolPtr(true)}, nil, false},
		{"unacknowledged write is not an error", nil, mongo.ErrUnacknowledgedWrite, true},
		{"substring", &expectedError{ErrorSubstring: strPtr("duplicate key")}, cmdErr, true},
		{"wrong substring", &expectedError{ErrorSubstring: strPtr("timeout")}, cmdErr, false},
		{"client error", &expectedError{IsClientError: boolPtr(true)}, clientErr, true},
		{"server error is not a client error", &expectedError{IsClientError: boolPtr(true)}, cmdErr, false},
		{"server error", &expectedError{IsClientError: boolPtr(false)}, cmdErr, true},
		{"code", &expectedError{Code: int32Ptr(11000)}, cmdErr, true},
		{"wrong code", &expectedError{Code: int32Ptr(1)}, cmdErr, false},
		{"code on client error", &expectedError{Code: int32Ptr(11000)}, clientErr, false},
		{"code name", &expectedError{CodeName: strPtr("DuplicateKey")}, cmdErr, true},
		{"write error code", &expectedError{Code: int32Ptr(121)}, writeErr, true},
		{"write error code name", &expectedError{CodeName: strPtr("DocumentValidationFailure")}, writeErr, true},
		{"label included", &expectedError{IncludedLabels: []string{"RetryableWriteError"}}, cmdErr, true},
		{"label missing", &expectedError{IncludedLabels: []string{"TransientTransactionError"}}, cmdErr, false},
		{"label omitted", &expectedError{OmittedLabels: []string{"TransientTransactionError"}}, cmdErr, true},
		{"omitted label present", &expectedError{OmittedLabels: []string{"RetryableWriteError"}}, cmdErr, false},
		{"labels on client error", &expectedError{IncludedLabels: []string{"RetryableWriteError"}}, clientErr, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifyOperationError(ctx, tc.expected, newErrorResult(tc.err))
			if tc.matches {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}

	t.Run("expectResult on error", func(t *testing.T) {
		expected := marshalValue(t, bson.D{{"insertedCount", 1}})
		res := newDocumentResult(marshalDoc(t, bson.D{{"insertedCount", 1}, {"deletedCount", 0}}), cmdErr)

		err := verifyOperationError(ctx, &expectedError{ExpectedResult: &expected}, res)
		assert.NoError(t, err)
	})
}

func TestVerifyOperationResult(t *testing.T) {
	ctx := newTestingContext(t)

	t.Run("operation failed", func(t *testing.T) {
		err := verifyOperationResult(ctx, marshalValue(t, bson.D{}), newErrorResult(errors.New("boom")))
		assert.Error(t, err)
	})
	t.Run("root document allows extra keys", func(t *testing.T) {
		res := newDocumentResult(marshalDoc(t, bson.D{{"n", 1}, {"ok", 1}}), nil)
		assert.NoError(t, verifyOperationResult(ctx, marshalValue(t, bson.D{{"n", 1}}), res))
	})
	t.Run("cursor documents allow extra keys", func(t *testing.T) {
		res := newCursorResult([]bson.Raw{marshalDoc(t, bson.D{{"_id", 1}, {"x", 1}})})
		assert.NoError(t, verifyOperationResult(ctx, marshalValue(t, bson.A{bson.D{{"_id", 1}}}), res))
	})
	t.Run("plain arrays match exactly", func(t *testing.T) {
		val := marshalValue(t, bson.A{bson.D{{"_id", 1}, {"x", 1}}})
		res := newValueResult(val.Type, val.Value, nil)
		assert.Error(t, verifyOperationResult(ctx, marshalValue(t, bson.A{bson.D{{"_id", 1}}}), res))
	})
}

func TestOperationResultString(t *testing.T) {
	assert.Equal(t, "{empty result}", newEmptyResult().String())
	assert.Contains(t, newErrorResult(errors.New("boom")).String(), "error: boom")
}
