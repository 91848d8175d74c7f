// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mtest describes the deployment a test run executes against and provides helpers for administering it.
package mtest

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const pingTimeout = 5 * time.Second

// SetupOptions configures Setup.
type SetupOptions struct {
	URI string
	// Load balancer URIs are required when the deployment is load balanced.
	SingleMongosLoadBalancerURI string
	MultiMongosLoadBalancerURI  string
	LoadBalanced                bool
	AuthEnabled                 bool
	Serverless                  bool
	Logger                      logrus.FieldLogger
}

// Description holds the facts about a deployment that requirement checks and entity construction depend on.
type Description struct {
	URI   string
	Hosts []string
	// Topology is never ShardedReplicaSet. A sharded cluster backed by replica sets has Topology Sharded and
	// ShardedReplicaSet set to true so a plain "sharded" requirement matches both.
	Topology                    TopologyKind
	ShardedReplicaSet           bool
	ServerVersion               string
	AuthEnabled                 bool
	Serverless                  bool
	ServerParameters            bson.Raw
	SingleMongosLoadBalancerURI string
	MultiMongosLoadBalancerURI  string
}

// Deployment is a Description plus the internal client used for setup and teardown work.
type Deployment struct {
	Description
	client *mongo.Client
}

// NewDeployment creates a Deployment from an existing description. The client may be nil for tests that never talk to
// a server.
func NewDeployment(desc Description, client *mongo.Client) *Deployment {
	return &Deployment{Description: desc, client: client}
}

// Client returns the internal client. It uses majority write concern and is pinned to the first host in the URI.
func (d *Deployment) Client() *mongo.Client {
	return d.client
}

// Disconnect closes the internal client.
func (d *Deployment) Disconnect(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}

// Setup connects to the deployment described by opts and detects its topology, version and parameters.
func Setup(ctx context.Context, opts SetupOptions) (*Deployment, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	cs, err := connstring.ParseAndValidate(opts.URI)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing connection string %q", opts.URI)
	}

	d := &Deployment{
		Description: Description{
			URI:         opts.URI,
			Hosts:       cs.Hosts,
			AuthEnabled: opts.AuthEnabled,
			Serverless:  opts.Serverless,
		},
	}

	clientOpts := options.Client().ApplyURI(opts.URI).SetWriteConcern(writeconcern.Majority())
	loadBalanced := opts.LoadBalanced || cs.LoadBalanced
	if !loadBalanced && len(cs.Hosts) > 0 {
		// Pin to one host. Behavior can be inconsistent across mongoses when routing table caches are stale.
		clientOpts.SetHosts(cs.Hosts[:1])
	}
	if d.client, err = mongo.Connect(ctx, clientOpts); err != nil {
		return nil, errors.Wrap(err, "error connecting internal client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := d.client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = d.client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "ping error; make sure the deployment is running on URI %v", opts.URI)
	}

	if err := d.detect(ctx, loadBalanced); err != nil {
		_ = d.client.Disconnect(ctx)
		return nil, err
	}

	if d.Topology == LoadBalanced {
		if opts.SingleMongosLoadBalancerURI == "" || opts.MultiMongosLoadBalancerURI == "" {
			_ = d.client.Disconnect(ctx)
			return nil, errors.New("SINGLE_MONGOS_LB_URI and MULTI_MONGOS_LB_URI must be set when running against " +
				"load balanced clusters")
		}
		d.SingleMongosLoadBalancerURI = opts.SingleMongosLoadBalancerURI
		d.MultiMongosLoadBalancerURI = opts.MultiMongosLoadBalancerURI
	}

	log.WithFields(logrus.Fields{
		"topology":          d.Topology,
		"shardedReplicaSet": d.ShardedReplicaSet,
		"serverVersion":     d.ServerVersion,
		"auth":              d.AuthEnabled,
		"serverless":        d.Serverless,
	}).Debug("detected deployment")
	return d, nil
}

func (d *Deployment) detect(ctx context.Context, loadBalanced bool) error {
	admin := d.client.Database("admin")

	buildInfo, err := admin.RunCommand(ctx, bson.D{{"buildInfo", 1}}).Raw()
	if err != nil {
		return errors.Wrap(err, "buildInfo error")
	}
	version, ok := buildInfo.Lookup("version").StringValueOK()
	if !ok {
		return errors.New("no version string in buildInfo response")
	}
	d.ServerVersion = version

	var hello struct {
		Msg     string `bson:"msg"`
		SetName string `bson:"setName"`
	}
	err = admin.RunCommand(ctx, bson.D{{"hello", 1}}).Decode(&hello)
	if err != nil {
		// Servers older than 4.4.2 only know the legacy command.
		if err = admin.RunCommand(ctx, bson.D{{"isMaster", 1}}).Decode(&hello); err != nil {
			return errors.Wrap(err, "error running hello")
		}
	}

	switch {
	case loadBalanced:
		d.Topology = LoadBalanced
	case hello.Msg == "isdbgrid":
		d.Topology = Sharded
	case hello.SetName != "":
		d.Topology = ReplicaSet
	default:
		d.Topology = Single
	}

	if d.Topology == Sharded {
		if d.ShardedReplicaSet, err = d.shardsAreReplicaSets(ctx); err != nil {
			return err
		}
	}

	// Serverless deployments do not support getParameter.
	if !d.Serverless {
		d.ServerParameters, err = admin.RunCommand(ctx, bson.D{{"getParameter", "*"}}).Raw()
		if err != nil {
			return errors.Wrap(err, "error getting serverParameters")
		}
	}
	return nil
}

// shardsAreReplicaSets reports whether every shard of a sharded cluster is backed by a replica set.
func (d *Deployment) shardsAreReplicaSets(ctx context.Context) (bool, error) {
	cursor, err := d.client.Database("config").Collection("shards").Find(ctx, bson.D{})
	if err != nil {
		return false, errors.Wrap(err, "error running find against config.shards")
	}
	defer cursor.Close(ctx)

	var shards []struct {
		Host string `bson:"host"`
	}
	if err := cursor.All(ctx, &shards); err != nil {
		return false, errors.Wrap(err, "error getting results of find against config.shards")
	}

	// A replica set shard's host has the form "replicaSetName/host1,host2,...".
	for _, shard := range shards {
		if !strings.Contains(shard.Host, "/") {
			return false, nil
		}
	}
	return len(shards) > 0, nil
}
