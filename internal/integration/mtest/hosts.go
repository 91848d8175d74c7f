// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// CommandFunc runs work against a client connected to a single host.
type CommandFunc func(ctx context.Context, client *mongo.Client) error

// RunCommandOnHost connects a temporary client to host using the deployment URI and runs commandFn with it.
func (d *Deployment) RunCommandOnHost(ctx context.Context, host string, commandFn CommandFunc) error {
	clientOpts := options.Client().
		ApplyURI(d.URI).
		SetHosts([]string{host})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return errors.Wrapf(err, "error creating client to host %q", host)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	return commandFn(ctx, client)
}

// RunOnAllMongoses runs commandFn against every host in the deployment URI concurrently. The first error is
// returned once all hosts have finished.
func (d *Deployment) RunOnAllMongoses(ctx context.Context, commandFn CommandFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range d.Hosts {
		host := host
		g.Go(func() error {
			if err := d.RunCommandOnHost(gctx, host, commandFn); err != nil {
				return errors.Wrapf(err, "error executing callback against host %q", host)
			}
			return nil
		})
	}
	return g.Wait()
}

// RunOnPrimaryOrAllMongoses runs commandFn once with the internal client, or against every mongos when the
// deployment is sharded.
func (d *Deployment) RunOnPrimaryOrAllMongoses(ctx context.Context, commandFn CommandFunc) error {
	if d.Topology == Sharded {
		return d.RunOnAllMongoses(ctx, commandFn)
	}
	return commandFn(ctx, d.client)
}
