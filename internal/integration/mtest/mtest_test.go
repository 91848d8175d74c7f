// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCompareServerVersions(t *testing.T) {
	testCases := []struct {
		name     string
		v1, v2   string
		expected int
	}{
		{"equal", "4.4.1", "4.4.1", 0},
		{"lesser precision", "3.2", "3.2.11", 0},
		{"greater major", "5.0", "4.4", 1},
		{"lesser minor", "4.2.0", "4.4.0", -1},
		{"pre-release", "7.0.0-rc0", "7.0", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := CompareServerVersions(tc.v1, tc.v2)
			switch {
			case tc.expected == 0:
				assert.Equal(t, 0, got, "expected %q == %q", tc.v1, tc.v2)
			case tc.expected > 0:
				assert.Greater(t, got, 0, "expected %q > %q", tc.v1, tc.v2)
			default:
				assert.Less(t, got, 0, "expected %q < %q", tc.v1, tc.v2)
			}
		})
	}
}

func TestRunOnBlockUnmarshal(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{
			{"minServerVersion", "4.0"},
			{"topologies", bson.A{"replicaset", "sharded"}},
			{"serverless", "forbid"},
			{"auth", true},
		})
		require.NoError(t, err)

		var rob RunOnBlock
		require.NoError(t, bson.Unmarshal(doc, &rob), "UnmarshalBSON error")
		assert.Equal(t, "4.0", rob.MinServerVersion)
		assert.Equal(t, []TopologyKind{ReplicaSet, Sharded}, rob.Topologies)
		assert.Equal(t, ServerlessForbid, rob.Serverless)
		require.NotNil(t, rob.Auth)
		assert.True(t, *rob.Auth)
	})
	t.Run("unknown key", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{{"minServerVersion", "4.0"}, {"storageEngine", "wiredTiger"}})
		require.NoError(t, err)

		var rob RunOnBlock
		err = bson.Unmarshal(doc, &rob)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storageEngine")
	})
	t.Run("invalid serverless", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{{"serverless", "sometimes"}})
		require.NoError(t, err)

		var rob RunOnBlock
		assert.Error(t, bson.Unmarshal(doc, &rob))
	})
}

func TestRunOnRequirementsReason(t *testing.T) {
	params, err := bson.Marshal(bson.D{{"enableTestCommands", int32(1)}, {"featureFlag", true}})
	require.NoError(t, err)

	desc := &Description{
		Topology:          Sharded,
		ShardedReplicaSet: true,
		ServerVersion:     "6.0.5",
		ServerParameters:  params,
	}
	yes, no := true, false

	testCases := []struct {
		name      string
		blocks    []RunOnBlock
		satisfied bool
		contains  string
	}{
		{"no blocks", nil, true, ""},
		{"version in range", []RunOnBlock{{MinServerVersion: "4.4", MaxServerVersion: "6.0.99"}}, true, ""},
		{"version too low", []RunOnBlock{{MinServerVersion: "7.0"}}, false, "lower than min"},
		{"sharded matches sharded-replicaset", []RunOnBlock{{Topologies: []TopologyKind{ShardedReplicaSet}}}, true, ""},
		{"topology mismatch", []RunOnBlock{{Topologies: []TopologyKind{Single}}}, false, "sharded-replicaset"},
		{
			"numeric parameter of different type",
			[]RunOnBlock{{ServerParameters: map[string]bson.RawValue{
				"enableTestCommands": {Type: bson.TypeDouble, Value: float64Bytes(1)},
			}}},
			true, "",
		},
		{
			"missing parameter",
			[]RunOnBlock{{ServerParameters: map[string]bson.RawValue{
				"unknown": {Type: bson.TypeBoolean, Value: []byte{1}},
			}}},
			false, "does not support parameter",
		},
		{"auth required", []RunOnBlock{{Auth: &yes}}, false, "requires authentication"},
		{"auth forbidden", []RunOnBlock{{Auth: &no}}, true, ""},
		{"serverless required", []RunOnBlock{{Serverless: ServerlessRequire}}, false, "not running in serverless"},
		{
			"second block satisfied",
			[]RunOnBlock{{MinServerVersion: "99.0"}, {Topologies: []TopologyKind{Sharded}}},
			true, "",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reason := desc.RunOnRequirementsReason(tc.blocks)
			if tc.satisfied {
				assert.Empty(t, reason, "expected requirements to be satisfied")
				return
			}
			assert.True(t, strings.HasPrefix(reason, "runOnRequirements not satisfied:\n"), "unexpected reason %q", reason)
			assert.Contains(t, reason, "- Requirement 0 failed because: ")
			assert.Contains(t, reason, tc.contains)
		})
	}
}

func TestFailPointName(t *testing.T) {
	fp, err := bson.Marshal(bson.D{{"configureFailPoint", "failCommand"}, {"mode", bson.D{{"times", 1}}}})
	require.NoError(t, err)

	name, err := FailPointName(fp)
	assert.Nil(t, err, "FailPointName error: %v", err)
	assert.Equal(t, "failCommand", name)

	bad, err := bson.Marshal(bson.D{{"mode", "off"}})
	require.NoError(t, err)
	_, err = FailPointName(bad)
	assert.Error(t, err)
}

func float64Bytes(f float64) []byte {
	_, data, err := bson.MarshalValue(f)
	if err != nil {
		panic(err)
	}
	return data
}
