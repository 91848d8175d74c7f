// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"

	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/session"
)

// This file contains the special operations executed on the "testRunner" object.

func lookupString(args bson.Raw, key string) (string, error) {
	val, err := args.LookupErr(key)
	if err != nil {
		return "", newMissingArgumentError(key)
	}
	str, ok := val.StringValueOK()
	if !ok {
		return "", fmt.Errorf("expected %q argument to be a string, got %s", key, val.Type)
	}
	return str, nil
}

func lookupDocument(args bson.Raw, key string) (bson.Raw, error) {
	val, err := args.LookupErr(key)
	if err != nil {
		return nil, newMissingArgumentError(key)
	}
	doc, ok := val.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("expected %q argument to be a document, got %s", key, val.Type)
	}
	return doc, nil
}

// clientSessionArgument resolves the "session" argument to the driver's internal session state. Ended sessions are
// rejected.
func clientSessionArgument(ctx context.Context, args bson.Raw) (*session.Client, error) {
	id, err := lookupString(args, "session")
	if err != nil {
		return nil, err
	}
	sess, err := entities(ctx).session(id)
	if err != nil {
		return nil, err
	}
	xs, ok := sess.(mongo.XSession)
	if !ok {
		return nil, fmt.Errorf("session %q does not expose its client session", id)
	}
	return xs.ClientSession(), nil
}

func executeFailPoint(ctx context.Context, op *operation) error {
	clientID, err := lookupString(op.Arguments, "client")
	if err != nil {
		return err
	}
	client, err := entities(ctx).client(clientID)
	if err != nil {
		return err
	}
	fp, err := lookupDocument(op.Arguments, "failPoint")
	if err != nil {
		return err
	}
	name, err := mtest.FailPointName(fp)
	if err != nil {
		return err
	}

	if err := mtest.SetRawFailPoint(ctx, fp, client.Client); err != nil {
		return err
	}
	stateOf(ctx).addFailPoint(failPoint{name: name, clientID: clientID})
	return nil
}

// executeTargetedFailPoint sets a fail point on the mongos the session is pinned to.
func executeTargetedFailPoint(ctx context.Context, op *operation) error {
	cs, err := clientSessionArgument(ctx, op.Arguments)
	if err != nil {
		return err
	}
	if cs.PinnedServer == nil {
		return errors.New("session is not pinned to a server")
	}
	fp, err := lookupDocument(op.Arguments, "failPoint")
	if err != nil {
		return err
	}
	name, err := mtest.FailPointName(fp)
	if err != nil {
		return err
	}

	host := cs.PinnedServer.Addr.String()
	err = deployment(ctx).RunCommandOnHost(ctx, host, func(ctx context.Context, client *mongo.Client) error {
		return mtest.SetRawFailPoint(ctx, fp, client)
	})
	if err != nil {
		return err
	}
	stateOf(ctx).addFailPoint(failPoint{name: name, host: host})
	return nil
}

func executeAssertSessionDirty(ctx context.Context, op *operation) error {
	return verifySessionDirtyState(ctx, op.Arguments, true)
}

func executeAssertSessionNotDirty(ctx context.Context, op *operation) error {
	return verifySessionDirtyState(ctx, op.Arguments, false)
}

func verifySessionDirtyState(ctx context.Context, args bson.Raw, expectedDirty bool) error {
	cs, err := clientSessionArgument(ctx, args)
	if err != nil {
		return err
	}
	if isDirty := cs.Dirty; expectedDirty != isDirty {
		return fmt.Errorf("session dirty state mismatch; expected to be dirty: %v, is dirty: %v", expectedDirty,
			isDirty)
	}
	return nil
}

func executeAssertSameLsidOnLastTwoCommands(ctx context.Context, op *operation) error {
	return verifyLastTwoLsidsEqual(ctx, op.Arguments, true)
}

func executeAssertDifferentLsidOnLastTwoCommands(ctx context.Context, op *operation) error {
	return verifyLastTwoLsidsEqual(ctx, op.Arguments, false)
}

func verifyLastTwoLsidsEqual(ctx context.Context, args bson.Raw, expectedEqual bool) error {
	clientID, err := lookupString(args, "client")
	if err != nil {
		return err
	}
	client, err := entities(ctx).client(clientID)
	if err != nil {
		return err
	}
	first, second, err := client.lastTwoStartedEvents()
	if err != nil {
		return err
	}

	firstID, err := first.Command.LookupErr("lsid")
	if err != nil {
		return fmt.Errorf("first command has no 'lsid' field: %v", first.Command)
	}
	secondID, err := second.Command.LookupErr("lsid")
	if err != nil {
		return fmt.Errorf("second command has no 'lsid' field: %v", second.Command)
	}

	areEqual := firstID.Equal(secondID)
	if expectedEqual && !areEqual {
		return fmt.Errorf("expected last two lsids to be equal, but got %s and %s", firstID, secondID)
	}
	if !expectedEqual && areEqual {
		return fmt.Errorf("expected last two lsids to be different but both were %s", firstID)
	}
	return nil
}

var transactionStates = map[string]session.TransactionState{
	"none":        session.None,
	"starting":    session.Starting,
	"in_progress": session.InProgress,
	"committed":   session.Committed,
	"aborted":     session.Aborted,
}

func executeAssertSessionTransactionState(ctx context.Context, op *operation) error {
	cs, err := clientSessionArgument(ctx, op.Arguments)
	if err != nil {
		return err
	}
	stateStr, err := lookupString(op.Arguments, "state")
	if err != nil {
		return err
	}
	expected, ok := transactionStates[stateStr]
	if !ok {
		return fmt.Errorf("unrecognized session state type %q", stateStr)
	}

	if actual := cs.TransactionState; actual != expected {
		return fmt.Errorf("expected session state %q does not match actual state %q", expected, actual)
	}
	return nil
}

func executeAssertSessionPinned(ctx context.Context, op *operation) error {
	return verifySessionPinnedState(ctx, op.Arguments, true)
}

func executeAssertSessionUnpinned(ctx context.Context, op *operation) error {
	return verifySessionPinnedState(ctx, op.Arguments, false)
}

func verifySessionPinnedState(ctx context.Context, args bson.Raw, expectedPinned bool) error {
	cs, err := clientSessionArgument(ctx, args)
	if err != nil {
		return err
	}
	if isPinned := cs.PinnedServer != nil; expectedPinned != isPinned {
		return fmt.Errorf("session pinned state mismatch; expected to be pinned: %v, is pinned: %v", expectedPinned,
			isPinned)
	}
	return nil
}

type namespaceArguments struct {
	db, coll string
}

func createNamespaceArguments(args bson.Raw) (namespaceArguments, error) {
	var ns namespaceArguments
	var err error
	if ns.db, err = lookupString(args, "databaseName"); err != nil {
		return ns, err
	}
	if ns.coll, err = lookupString(args, "collectionName"); err != nil {
		return ns, err
	}
	return ns, nil
}

func (ns namespaceArguments) String() string {
	return ns.db + "." + ns.coll
}

func executeAssertCollectionExists(ctx context.Context, op *operation) error {
	return verifyCollectionExists(ctx, op.Arguments, true)
}

func executeAssertCollectionNotExists(ctx context.Context, op *operation) error {
	return verifyCollectionExists(ctx, op.Arguments, false)
}

// verifyCollectionExists uses the internal client so the check is not observed by any client entity.
func verifyCollectionExists(ctx context.Context, args bson.Raw, expectedExists bool) error {
	ns, err := createNamespaceArguments(args)
	if err != nil {
		return err
	}

	db := deployment(ctx).Client().Database(ns.db)
	names, err := db.ListCollectionNames(ctx, bson.D{{"name", ns.coll}})
	if err != nil {
		return errors.Wrap(err, "error running ListCollectionNames")
	}

	if exists := len(names) == 1; expectedExists != exists {
		return fmt.Errorf("collection existence mismatch; expected namespace %q to exist: %v, exists: %v", ns,
			expectedExists, exists)
	}
	return nil
}

func executeAssertIndexExists(ctx context.Context, op *operation) error {
	return verifyIndexExists(ctx, op.Arguments, true)
}

func executeAssertIndexNotExists(ctx context.Context, op *operation) error {
	return verifyIndexExists(ctx, op.Arguments, false)
}

func verifyIndexExists(ctx context.Context, args bson.Raw, expectedExists bool) error {
	ns, err := createNamespaceArguments(args)
	if err != nil {
		return err
	}
	indexName, err := lookupString(args, "indexName")
	if err != nil {
		return err
	}

	exists, err := indexExists(ctx, ns, indexName)
	if err != nil {
		return err
	}
	if expectedExists != exists {
		return fmt.Errorf("index existence mismatch: expected index %q to exist in namespace %q: %v, exists: %v",
			indexName, ns, expectedExists, exists)
	}
	return nil
}

// indexExists reports whether the named index exists. A missing collection has no indexes.
func indexExists(ctx context.Context, ns namespaceArguments, indexName string) (bool, error) {
	iv := deployment(ctx).Client().Database(ns.db).Collection(ns.coll).Indexes()
	cursor, err := iv.List(ctx)
	if isNamespaceNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "error running IndexView.List")
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		if name, _ := cursor.Current.Lookup("name").StringValueOK(); name == indexName {
			return true, nil
		}
	}
	return false, errors.Wrap(cursor.Err(), "error iterating indexes")
}

// executeAssertNumberConnectionsCheckedOut is accepted for compatibility. Connection pool events are not observed, so
// there is nothing to compare against.
func executeAssertNumberConnectionsCheckedOut(ctx context.Context, op *operation) error {
	runnerLogger(ctx).Debugf("skipping %s: connection pool events are not observed", op.Name)
	return nil
}
