// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// expectedError represents an error that is expected to occur during a test. The isError field is accepted but only
// asserts that an error occurred, which every expectedError does.
type expectedError struct {
	IsError        *bool          `bson:"isError"`
	IsClientError  *bool          `bson:"isClientError"`
	ErrorSubstring *string        `bson:"errorContains"`
	Code           *int32         `bson:"errorCode"`
	CodeName       *string        `bson:"errorCodeName"`
	IncludedLabels []string       `bson:"errorLabelsContain"`
	OmittedLabels  []string       `bson:"errorLabelsOmit"`
	ExpectedResult *bson.RawValue `bson:"expectResult"`
}

// verifyOperationError compares the expected error to the actual operation result. If the expected parameter is nil,
// this function will only check that result.err is also nil. Otherwise, it will check that result.err is non-nil and
// will perform any other assertions required by the expectedError object. Checks stop at the first failure.
func verifyOperationError(ctx context.Context, expected *expectedError, result *operationResult) error {
	// Unacknowledged writes are not errors in test files.
	if result.err == mongo.ErrUnacknowledgedWrite {
		result.err = nil
	}

	if expected == nil {
		if result.err != nil {
			return fmt.Errorf("expected no error, but got %v", result.err)
		}
		return nil
	}

	if result.err == nil {
		return fmt.Errorf("expected error, got nil")
	}

	if expected.ErrorSubstring != nil && !strings.Contains(result.err.Error(), *expected.ErrorSubstring) {
		return fmt.Errorf("expected error %v to contain substring %q", result.err, *expected.ErrorSubstring)
	}

	// extractErrorDetails only succeeds for server errors, so its ok return value tells server and client-side
	// errors apart.
	details, serverError := extractErrorDetails(result.err)
	if expected.IsClientError != nil {
		// Network errors are client-side errors.
		isClientError := !serverError || mongo.IsNetworkError(result.err)
		if *expected.IsClientError && !isClientError {
			return fmt.Errorf("expected client-side error but got server error %v", result.err)
		}
		if !*expected.IsClientError && isClientError {
			return fmt.Errorf("expected server error but got client-side error %v", result.err)
		}
	}

	if expected.Code != nil {
		if !serverError {
			return fmt.Errorf("expected error %v to have code %d, but it is not a server error", result.err,
				*expected.Code)
		}
		if !containsInt32(details.codes, *expected.Code) {
			return fmt.Errorf("expected error %v to have code %d", result.err, *expected.Code)
		}
	}
	if expected.CodeName != nil {
		if !serverError {
			return fmt.Errorf("expected error %v to have code name %q, but it is not a server error", result.err,
				*expected.CodeName)
		}
		if !containsString(details.codeNames, *expected.CodeName) {
			return fmt.Errorf("expected error %v to have code name %q", result.err, *expected.CodeName)
		}
	}

	var labeled mongo.LabeledError
	hasLabels := errors.As(result.err, &labeled)
	for _, label := range expected.IncludedLabels {
		if !hasLabels {
			return fmt.Errorf("expected error %v to contain label %q, but it has no labels", result.err, label)
		}
		if !labeled.HasErrorLabel(label) {
			return fmt.Errorf("expected error %v to contain label %q", result.err, label)
		}
	}
	for _, label := range expected.OmittedLabels {
		if hasLabels && labeled.HasErrorLabel(label) {
			return fmt.Errorf("expected error %v to not contain label %q", result.err, label)
		}
	}

	if expected.ExpectedResult != nil {
		if err := matchResultValue(ctx, *expected.ExpectedResult, result); err != nil {
			return fmt.Errorf("result comparison error: %v", err)
		}
	}
	return nil
}

// errorDetails consolidates information from different server error types.
type errorDetails struct {
	codes     []int32
	codeNames []string
}

// extractErrorDetails creates an errorDetails instance based on the provided error. It returns the details and an "ok"
// value which is true if the provided error is a server error.
func extractErrorDetails(err error) (errorDetails, bool) {
	var details errorDetails

	var cmdErr mongo.CommandError
	var writeErr mongo.WriteException
	var bulkErr mongo.BulkWriteException
	switch {
	case errors.As(err, &cmdErr):
		details.codes = []int32{cmdErr.Code}
		details.codeNames = []string{cmdErr.Name}
	case errors.As(err, &writeErr):
		if wce := writeErr.WriteConcernError; wce != nil {
			details.codes = append(details.codes, int32(wce.Code))
			details.codeNames = append(details.codeNames, wce.Name)
		}
		for _, we := range writeErr.WriteErrors {
			details.addWriteError(int32(we.Code), we.Raw)
		}
	case errors.As(err, &bulkErr):
		if wce := bulkErr.WriteConcernError; wce != nil {
			details.codes = append(details.codes, int32(wce.Code))
			details.codeNames = append(details.codeNames, wce.Name)
		}
		for _, we := range bulkErr.WriteErrors {
			details.addWriteError(int32(we.Code), we.Raw)
		}
	default:
		return errorDetails{}, false
	}
	return details, true
}

// addWriteError records a write error. The code name is only known when the server included it in the raw error.
func (d *errorDetails) addWriteError(code int32, raw bson.Raw) {
	d.codes = append(d.codes, code)
	if name, ok := raw.Lookup("codeName").StringValueOK(); ok {
		d.codeNames = append(d.codeNames, name)
	}
}

func containsInt32(arr []int32, target int32) bool {
	for _, val := range arr {
		if val == target {
			return true
		}
	}
	return false
}

func containsString(arr []string, target string) bool {
	for _, val := range arr {
		if val == target {
			return true
		}
	}
	return false
}
