// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"strings"

	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	errorNamespaceNotFound int32 = 26
	errorInterrupted       int32 = 11601
)

// isNamespaceNotFound reports whether err is the server's "ns not found" error.
func isNamespaceNotFound(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == errorNamespaceNotFound {
		return true
	}
	return strings.Contains(err.Error(), "ns not found")
}

// terminateOpenSessions executes a killAllSessions command to ensure that sessions left open on the server by a test
// do not cause future tests to hang.
func terminateOpenSessions(ctx context.Context, d *mtest.Deployment) error {
	commandFn := func(ctx context.Context, client *mongo.Client) error {
		cmd := bson.D{
			{"killAllSessions", bson.A{}},
		}

		err := client.Database("admin").RunCommand(ctx, cmd).Err()
		var ce mongo.CommandError
		if errors.As(err, &ce) && ce.Code == errorInterrupted {
			// Workaround for SERVER-38335 on server versions below 4.2.
			err = nil
		}
		return err
	}

	// For sharded clusters, this has to run against all mongos nodes. Otherwise, it runs against the primary.
	return d.RunOnPrimaryOrAllMongoses(ctx, commandFn)
}

// performDistinctWorkaround executes a non-transactional "distinct" command against each mongos for every collection
// entity, so later distinct commands inside transactions do not fail with StaleDbVersion.
func performDistinctWorkaround(ctx context.Context) error {
	colls := entities(ctx).collections()
	commandFn := func(ctx context.Context, client *mongo.Client) error {
		for _, coll := range colls {
			newColl := client.Database(coll.Database().Name()).Collection(coll.Name())
			if _, err := newColl.Distinct(ctx, "x", bson.D{}); err != nil {
				return errors.Wrapf(err, "error running distinct for collection %q",
					coll.Database().Name()+"."+coll.Name())
			}
		}
		return nil
	}
	return deployment(ctx).RunOnAllMongoses(ctx, commandFn)
}

// disableFailPoints turns off every fail point the test enabled. Fail points set through a client entity are disabled
// through the same client. Targeted fail points are disabled on the host they were set on. Every fail point is
// attempted and the first error is returned.
func disableFailPoints(ctx context.Context) error {
	var firstErr error
	for _, fp := range stateOf(ctx).registeredFailPoints() {
		var err error
		switch {
		case fp.host != "":
			err = deployment(ctx).RunCommandOnHost(ctx, fp.host, func(ctx context.Context, client *mongo.Client) error {
				return mtest.DisableFailPoint(ctx, fp.name, client)
			})
		default:
			var client *clientEntity
			if client, err = entities(ctx).client(fp.clientID); err == nil {
				err = mtest.DisableFailPoint(ctx, fp.name, client.Client)
			}
		}
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "error disabling fail point %q", fp.name)
		}
	}
	return firstErr
}
