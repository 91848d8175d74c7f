// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FailPointName returns the name of the fail point configured by fp, which must be of the form
// {configureFailPoint: <name>, ...}.
func FailPointName(fp bson.Raw) (string, error) {
	elem, err := fp.IndexErr(0)
	if err != nil {
		return "", errors.Wrap(err, "fail point document is empty")
	}
	if elem.Key() != "configureFailPoint" {
		return "", errors.Errorf("expected fail point document to start with configureFailPoint, got %q", elem.Key())
	}
	name, ok := elem.Value().StringValueOK()
	if !ok {
		return "", errors.Errorf("expected configureFailPoint value to be a string, got %s", elem.Value().Type)
	}
	return name, nil
}

// SetRawFailPoint configures the fail point described by fp using client.
func SetRawFailPoint(ctx context.Context, fp bson.Raw, client *mongo.Client) error {
	if err := client.Database("admin").RunCommand(ctx, fp).Err(); err != nil {
		return errors.Wrap(err, "error creating fail point")
	}
	return nil
}

// DisableFailPoint turns off the named fail point using client.
func DisableFailPoint(ctx context.Context, name string, client *mongo.Client) error {
	cmd := bson.D{
		{"configureFailPoint", name},
		{"mode", "off"},
	}
	if err := client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return errors.Wrapf(err, "error disabling fail point %q", name)
	}
	return nil
}
