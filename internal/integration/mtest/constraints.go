// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// minCSFLEServerVersion is the lowest server version that supports client side field level encryption.
const minCSFLEServerVersion = "4.2"

// VerifyVersionConstraints returns an error if the server version is not in the range [min, max]. Bounds are only
// checked if they are non-empty.
func (d *Description) VerifyVersionConstraints(min, max string) error {
	if min != "" && CompareServerVersions(d.ServerVersion, min) < 0 {
		return fmt.Errorf("server version %q is lower than min required version %q", d.ServerVersion, min)
	}
	if max != "" && CompareServerVersions(d.ServerVersion, max) > 0 {
		return fmt.Errorf("server version %q is higher than max version %q", d.ServerVersion, max)
	}
	return nil
}

// VerifyTopologyConstraints returns an error if the topology does not match one of the provided kinds. An empty
// slice matches every topology.
func (d *Description) VerifyTopologyConstraints(topologies []TopologyKind) error {
	if len(topologies) == 0 {
		return nil
	}

	for _, topo := range topologies {
		if topo == d.Topology || (topo == ShardedReplicaSet && d.Topology == Sharded && d.ShardedReplicaSet) {
			return nil
		}
	}
	return fmt.Errorf("topology (%s) was not found among listed topologies: %v", d.topologyName(), topologies)
}

func (d *Description) topologyName() TopologyKind {
	if d.Topology == Sharded && d.ShardedReplicaSet {
		return ShardedReplicaSet
	}
	return d.Topology
}

// VerifyServerParametersConstraints returns an error if any of the expected parameters is missing or has a
// different value. Numbers of different BSON types compare equal when their values are equal.
func (d *Description) VerifyServerParametersConstraints(serverParameters map[string]bson.RawValue) error {
	names := make([]string, 0, len(serverParameters))
	for name := range serverParameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, param := range names {
		expected := serverParameters[param]
		actual, err := d.ServerParameters.LookupErr(param)
		if err != nil {
			return fmt.Errorf("serverParameters mismatch: server does not support parameter %q", param)
		}
		if !parameterValuesEqual(expected, actual) {
			return fmt.Errorf("serverParameters mismatch: expected %s for parameter %q, got %s", expected, param, actual)
		}
	}
	return nil
}

func parameterValuesEqual(expected, actual bson.RawValue) bool {
	if expected.IsNumber() && actual.IsNumber() {
		return asFloat(expected) == asFloat(actual)
	}
	return expected.Equal(actual)
}

func asFloat(val bson.RawValue) float64 {
	if f, ok := val.DoubleOK(); ok {
		return f
	}
	return float64(val.AsInt64())
}

// VerifyAuthConstraint returns an error if the deployment's auth state does not match expected.
func (d *Description) VerifyAuthConstraint(expected *bool) error {
	if expected == nil || *expected == d.AuthEnabled {
		return nil
	}
	verb := "forbids"
	if *expected {
		verb = "requires"
	}
	return fmt.Errorf("server does not match auth requirement, test %s authentication", verb)
}

// VerifyServerlessConstraint returns an error if the serverless mode does not allow this deployment.
func (d *Description) VerifyServerlessConstraint(expected string) error {
	switch expected {
	case ServerlessRequire:
		if !d.Serverless {
			return fmt.Errorf("not running in serverless mode")
		}
	case ServerlessForbid:
		if d.Serverless {
			return fmt.Errorf("running in serverless mode")
		}
	case ServerlessAllow, "":
	default:
		return fmt.Errorf("invalid value for serverless: %s", expected)
	}
	return nil
}

// VerifyCSFLEConstraint returns an error if the CSFLE requirement cannot be met by this build and server.
func (d *Description) VerifyCSFLEConstraint(expected *bool) error {
	if expected == nil {
		return nil
	}
	if *expected && !IsCSFLEEnabled() {
		return fmt.Errorf("CSFLE is required but the runner was built without the cse tag")
	}
	if !*expected && IsCSFLEEnabled() {
		return fmt.Errorf("CSFLE is not allowed but the runner was built with the cse tag")
	}
	if *expected {
		if err := d.VerifyVersionConstraints(minCSFLEServerVersion, ""); err != nil {
			return fmt.Errorf("CSFLE requires server version %s or later: %v", minCSFLEServerVersion, err)
		}
	}
	return nil
}

// VerifyRunOnBlock returns an error describing the first unmet requirement of rob.
func (d *Description) VerifyRunOnBlock(rob RunOnBlock) error {
	if err := d.VerifyVersionConstraints(rob.MinServerVersion, rob.MaxServerVersion); err != nil {
		return err
	}
	if err := d.VerifyTopologyConstraints(rob.Topologies); err != nil {
		return err
	}
	if err := d.VerifyServerParametersConstraints(rob.ServerParameters); err != nil {
		return err
	}
	if err := d.VerifyServerlessConstraint(rob.Serverless); err != nil {
		return err
	}
	if err := d.VerifyAuthConstraint(rob.Auth); err != nil {
		return err
	}
	return d.VerifyCSFLEConstraint(rob.CSFLE)
}

// RunOnRequirementsReason evaluates a runOnRequirements array. It returns an empty string if the array is empty or
// any block is satisfied. Otherwise it returns a reason listing why each block failed.
func (d *Description) RunOnRequirementsReason(blocks []RunOnBlock) string {
	if len(blocks) == 0 {
		return ""
	}

	var reasons strings.Builder
	for idx, block := range blocks {
		err := d.VerifyRunOnBlock(block)
		if err == nil {
			return ""
		}
		fmt.Fprintf(&reasons, "- Requirement %d failed because: %v\n", idx, err)
	}
	return "runOnRequirements not satisfied:\n" + reasons.String()
}
