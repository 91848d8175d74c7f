// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// TopologyKind describes the topology that a test is run on.
type TopologyKind string

// These constants specify valid values for TopologyKind
const (
	ReplicaSet   TopologyKind = "replicaset"
	Sharded      TopologyKind = "sharded"
	Single       TopologyKind = "single"
	LoadBalanced TopologyKind = "load-balanced"
	// ShardedReplicaSet is a special case of sharded that requires each shard to be a replica set rather than a
	// standalone server.
	ShardedReplicaSet TopologyKind = "sharded-replicaset"
)

// Values for the serverless requirement.
const (
	ServerlessAllow   = "allow"
	ServerlessRequire = "require"
	ServerlessForbid  = "forbid"
)

// RunOnBlock is one clause of a runOnRequirements array. All of its fields must be satisfied for the clause to pass.
type RunOnBlock struct {
	MinServerVersion string                   `bson:"minServerVersion"`
	MaxServerVersion string                   `bson:"maxServerVersion"`
	Topologies       []TopologyKind           `bson:"topologies"`
	ServerParameters map[string]bson.RawValue `bson:"serverParameters"`
	Serverless       string                   `bson:"serverless"`
	Auth             *bool                    `bson:"auth"`
	CSFLE            *bool                    `bson:"csfle"`
}

var _ bson.Unmarshaler = (*RunOnBlock)(nil)

// UnmarshalBSON implements custom BSON unmarshalling behavior for RunOnBlock so unrecognized requirement keys are
// reported instead of silently ignored.
func (r *RunOnBlock) UnmarshalBSON(data []byte) error {
	var temp struct {
		MinServerVersion string                   `bson:"minServerVersion"`
		MaxServerVersion string                   `bson:"maxServerVersion"`
		Topologies       []TopologyKind           `bson:"topologies"`
		ServerParameters map[string]bson.RawValue `bson:"serverParameters"`
		Serverless       string                   `bson:"serverless"`
		Auth             *bool                    `bson:"auth"`
		CSFLE            *bool                    `bson:"csfle"`
		Extra            map[string]interface{}   `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary RunOnBlock object: %v", err)
	}
	if len(temp.Extra) > 0 {
		keys := make([]string, 0, len(temp.Extra))
		for key := range temp.Extra {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return fmt.Errorf("unrecognized fields for RunOnBlock: %v", keys)
	}
	switch temp.Serverless {
	case "", ServerlessAllow, ServerlessRequire, ServerlessForbid:
	default:
		return fmt.Errorf("invalid value for serverless: %q", temp.Serverless)
	}

	r.MinServerVersion = temp.MinServerVersion
	r.MaxServerVersion = temp.MaxServerVersion
	r.Topologies = temp.Topologies
	r.ServerParameters = temp.ServerParameters
	r.Serverless = temp.Serverless
	r.Auth = temp.Auth
	r.CSFLE = temp.CSFLE
	return nil
}
