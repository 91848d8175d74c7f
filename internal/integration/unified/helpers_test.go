// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"testing"

	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// newTestingContext returns a context carrying the state of a test that never talks to a server.
func newTestingContext(t *testing.T, opts ...*Options) context.Context {
	t.Helper()

	merged := MergeOptions(opts...)
	return newTestContext(context.Background(), newTestState(merged, merged.Logger))
}

func marshalDoc(t *testing.T, doc interface{}) bson.Raw {
	t.Helper()

	raw, err := bson.Marshal(doc)
	require.NoError(t, err, "Marshal error")
	return raw
}

func marshalValue(t *testing.T, val interface{}) bson.RawValue {
	t.Helper()

	typ, data, err := bson.MarshalValue(val)
	require.NoError(t, err, "MarshalValue error")
	return bson.RawValue{Type: typ, Value: data}
}

// offlineDeployment describes a standalone server that is never contacted. mongo.Connect and StartSession do not
// need a server, so clients and sessions can be created against it.
func offlineDeployment() *mtest.Deployment {
	return mtest.NewDeployment(mtest.Description{
		URI:      "mongodb://localhost:27017",
		Hosts:    []string{"localhost:27017"},
		Topology: mtest.Single,
	}, nil)
}

// offlineClient declares a client entity whose server selection gives up quickly when it is disconnected.
func offlineClient(id string, extra ...bson.E) bson.D {
	doc := bson.D{{"id", id}, {"uriOptions", bson.D{{"serverSelectionTimeoutMS", 100}}}}
	return bson.D{{"client", append(doc, extra...)}}
}

// createTestEntities creates each declaration in the entity map of ctx. The map is closed when the test ends.
func createTestEntities(ctx context.Context, t *testing.T, decls ...bson.D) {
	t.Helper()

	em := entities(ctx)
	t.Cleanup(func() { _ = em.close(context.Background()) })
	for _, decl := range decls {
		require.NoError(t, em.create(ctx, marshalDoc(t, decl)), "error creating entity %v", decl)
	}
}
