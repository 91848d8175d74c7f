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
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const testRunnerObject = "testRunner"

type operation struct {
	Name                 string                 `bson:"name"`
	Object               string                 `bson:"object"`
	Arguments            bson.Raw               `bson:"arguments"`
	IgnoreResultAndError bool                   `bson:"ignoreResultAndError"`
	ExpectedError        *expectedError         `bson:"expectError"`
	ExpectedResult       *bson.RawValue         `bson:"expectResult"`
	ResultEntityID       *string                `bson:"saveResultAsEntity"`
	Extra                map[string]interface{} `bson:",inline"`

	// sessionID is the id of the session named by arguments.session. It is set by run before the field is removed
	// from Arguments and is logged with the operation.
	sessionID string
}

// operationFunc executes one named operation. A non-nil error means the operation could not be run at all (bad
// arguments, missing entity). Errors returned by the driver are carried in the result instead.
type operationFunc func(ctx context.Context, op *operation) (*operationResult, error)

// operationHandlers maps operation names to their implementation. It is populated in init because several handlers
// (loop, withTransaction) execute nested operations through it.
var operationHandlers map[string]operationFunc

func init() {
	operationHandlers = map[string]operationFunc{
		// Client operations. createChangeStream also targets databases and collections.
		"createChangeStream": executeCreateChangeStream,
		"listDatabases":      executeListDatabases,
		"listDatabaseNames":  executeListDatabaseNames,

		// ClientEncryption operations
		"createDataKey":     executeCreateDataKey,
		"rewrapManyDataKey": executeRewrapManyDataKey,
		"deleteKey":         executeDeleteKey,
		"getKey":            executeGetKey,
		"getKeys":           executeGetKeys,
		"addKeyAltName":     executeAddKeyAltName,
		"removeKeyAltName":  executeRemoveKeyAltName,
		"getKeyByAltName":   executeGetKeyByAltName,
		"encrypt":           executeEncrypt,
		"decrypt":           executeDecrypt,

		// Database operations
		"createCollection":    executeCreateCollection,
		"dropCollection":      executeDropCollection,
		"listCollections":     executeListCollections,
		"listCollectionNames": executeListCollectionNames,
		"runCommand":          executeRunCommand,
		"modifyCollection":    executeModifyCollection,

		// Collection operations. aggregate also targets databases.
		"aggregate":              executeAggregate,
		"bulkWrite":              executeBulkWrite,
		"countDocuments":         executeCountDocuments,
		"createFindCursor":       executeCreateFindCursor,
		"createIndex":            executeCreateIndex,
		"dropIndex":              executeDropIndex,
		"deleteOne":              executeDeleteOne,
		"deleteMany":             executeDeleteMany,
		"distinct":               executeDistinct,
		"estimatedDocumentCount": executeEstimatedDocumentCount,
		"find":                   executeFind,
		"findOneAndDelete":       executeFindOneAndDelete,
		"findOneAndReplace":      executeFindOneAndReplace,
		"findOneAndUpdate":       executeFindOneAndUpdate,
		"insertMany":             executeInsertMany,
		"insertOne":              executeInsertOne,
		"listIndexes":            executeListIndexes,
		"replaceOne":             executeReplaceOne,
		"updateOne":              executeUpdateOne,
		"updateMany":             executeUpdateMany,
		"rename":                 executeRenameCollection,
		"createSearchIndex":      executeCreateSearchIndex,
		"createSearchIndexes":    executeCreateSearchIndexes,
		"dropSearchIndex":        executeDropSearchIndex,
		"listSearchIndexes":      executeListSearchIndexes,
		"updateSearchIndex":      executeUpdateSearchIndex,

		// Change stream and cursor operations
		"iterateUntilDocumentOrError": executeIterateUntilDocumentOrError,
		"close":                       executeClose,

		// Session operations
		"endSession":        executeEndSession,
		"startTransaction":  executeStartTransaction,
		"commitTransaction": executeCommitTransaction,
		"abortTransaction":  executeAbortTransaction,
		"withTransaction":   executeWithTransaction,

		// GridFS operations
		"delete":   executeBucketDelete,
		"download": executeBucketDownload,
		"upload":   executeBucketUpload,

		// Test runner operations
		"failPoint":                            testRunnerOperation(executeFailPoint),
		"targetedFailPoint":                    testRunnerOperation(executeTargetedFailPoint),
		"assertSessionDirty":                   testRunnerOperation(executeAssertSessionDirty),
		"assertSessionNotDirty":                testRunnerOperation(executeAssertSessionNotDirty),
		"assertSameLsidOnLastTwoCommands":      testRunnerOperation(executeAssertSameLsidOnLastTwoCommands),
		"assertDifferentLsidOnLastTwoCommands": testRunnerOperation(executeAssertDifferentLsidOnLastTwoCommands),
		"assertSessionTransactionState":        testRunnerOperation(executeAssertSessionTransactionState),
		"assertCollectionExists":               testRunnerOperation(executeAssertCollectionExists),
		"assertCollectionNotExists":            testRunnerOperation(executeAssertCollectionNotExists),
		"assertIndexExists":                    testRunnerOperation(executeAssertIndexExists),
		"assertIndexNotExists":                 testRunnerOperation(executeAssertIndexNotExists),
		"assertSessionPinned":                  testRunnerOperation(executeAssertSessionPinned),
		"assertSessionUnpinned":                testRunnerOperation(executeAssertSessionUnpinned),
		"assertNumberConnectionsCheckedOut":    testRunnerOperation(executeAssertNumberConnectionsCheckedOut),
		"loop":                                 testRunnerOperation(executeLoop),
	}
}

// testRunnerOperation wraps an operation that must target the "testRunner" object and has no result of its own.
func testRunnerOperation(fn func(ctx context.Context, op *operation) error) operationFunc {
	return func(ctx context.Context, op *operation) (*operationResult, error) {
		if op.Object != testRunnerObject {
			return nil, fmt.Errorf("%s operation object should be %q, got %q", op.Name, testRunnerObject, op.Object)
		}
		if err := fn(ctx, op); err != nil {
			return nil, err
		}
		return newEmptyResult(), nil
	}
}

// execute runs the operation and verifies the returned result and/or error. If the result needs to be saved as
// an entity, it also updates the EntityMap associated with ctx to do so.
func (op *operation) execute(ctx context.Context) error {
	start := time.Now()
	res, err := op.run(ctx)
	runnerOptions(ctx).Metrics.observeOperation(op.Name, time.Since(start), err != nil || (res != nil && res.err != nil))
	if err != nil {
		return errors.Wrap(err, "execution failed")
	}

	if !op.IgnoreResultAndError {
		if err := verifyOperationError(ctx, op.ExpectedError, res); err != nil {
			return errors.Wrapf(err, "error verification failed for result %s", res)
		}
		if op.ExpectedResult != nil {
			if err := verifyOperationResult(ctx, *op.ExpectedResult, res); err != nil {
				return errors.Wrap(err, "result verification failed")
			}
		}
	}

	if op.ResultEntityID != nil && res.value.Type != 0 {
		if err := entities(ctx).addBSONEntity(*op.ResultEntityID, res.value); err != nil {
			return errors.Wrapf(err, "error storing result as entity %q", *op.ResultEntityID)
		}
	}
	return nil
}

func (op *operation) run(ctx context.Context) (*operationResult, error) {
	if len(op.Extra) > 0 {
		return nil, fmt.Errorf("unrecognized field %q in operation %q", mapKeys(op.Extra)[0], op.Name)
	}

	// Operations inside a loop run many times, so the parsed operation is never modified.
	copied := *op
	op = &copied

	// Special handling for the "session" field because it applies to all operations.
	if id, ok := op.Arguments.Lookup("session").StringValueOK(); ok {
		sess, err := entities(ctx).session(id)
		if err != nil {
			return nil, err
		}
		ctx = mongo.NewSessionContext(ctx, sess)
		op.sessionID = id

		// Remove the field so individual operations do not have to account for it.
		op.Arguments = bsonutil.RemoveFieldsFromDocument(op.Arguments, "session")
	}

	handler, ok := operationHandlers[op.Name]
	if !ok {
		return nil, fmt.Errorf("unrecognized operation %q", op.Name)
	}

	ts := stateOf(ctx)
	if !ts.loopSeen || op.Name == "loop" {
		log := ts.log.WithField(logger.FieldOperation, op.Name)
		if op.sessionID != "" {
			log = log.WithField(logger.FieldSession, op.sessionID)
		}
		log.Debugf("running operation on %q", op.Object)
	}
	return handler(ctx, op)
}

// String describes the operation for failure diagnostics.
func (op *operation) String() string {
	args := "{}"
	if op.Arguments != nil {
		args = bsonutil.ExtJSON(op.Arguments)
	}
	return fmt.Sprintf("%s on %q with arguments %s", op.Name, op.Object, args)
}

// isFailPointOperation reports whether the operation configures a fail point. Clients created for a test containing
// one use a reduced heartbeat interval.
func (op *operation) isFailPointOperation() bool {
	switch op.Name {
	case "failPoint", "targetedFailPoint", "configureFailPoint":
		return true
	}
	return false
}

// executeOperations runs each operation document in order and stops at the first failure.
func executeOperations(ctx context.Context, ops []*operation) error {
	for idx, op := range ops {
		if err := op.execute(ctx); err != nil {
			return errors.Wrapf(err, "error running operation %d (%s)", idx, op)
		}
	}
	return nil
}

// parseOperations decodes an array of operation documents.
func parseOperations(arr bson.Raw) ([]*operation, error) {
	vals, err := arr.Values()
	if err != nil {
		return nil, err
	}
	ops := make([]*operation, 0, len(vals))
	for idx, val := range vals {
		var op operation
		if err := val.Unmarshal(&op); err != nil {
			return nil, errors.Wrapf(err, "error parsing operation at index %d", idx)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}
