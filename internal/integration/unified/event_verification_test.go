// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
)

// newEventTestContext returns a context with a client entity "client0" that has observed an insert.
func newEventTestContext(t *testing.T) context.Context {
	t.Helper()

	connID := int64(42)
	started := newStartedEvent(&event.CommandStartedEvent{
		Command:              marshalDoc(t, bson.D{{"insert", "coll"}, {"documents", bson.A{bson.D{{"_id", 1}}}}, {"ordered", true}}),
		DatabaseName:         "db",
		CommandName:          "insert",
		ServerConnectionID64: &connID,
	})
	succeeded := newSucceededEvent(&event.CommandSucceededEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "insert"},
		Reply:                marshalDoc(t, bson.D{{"n", 1}, {"ok", 1.0}}),
	})

	ctx := newTestingContext(t)
	client := &clientEntity{id: "client0", events: []observedEvent{started, succeeded}}
	require.NoError(t, entities(ctx).add("client0", client))
	return ctx
}

func parseExpectedEvents(t *testing.T, doc bson.D) *expectedEvents {
	t.Helper()

	var expected expectedEvents
	require.NoError(t, bson.Unmarshal(marshalDoc(t, doc), &expected), "Unmarshal error")
	return &expected
}

func TestExpectedEventsUnmarshal(t *testing.T) {
	testCases := []struct {
		name string
		doc  bson.D
	}{
		{"missing client", bson.D{{"events", bson.A{}}}},
		{"events not an array", bson.D{{"client", "client0"}, {"events", bson.D{}}}},
		{"event not a document", bson.D{{"client", "client0"}, {"events", bson.A{1}}}},
		{"unknown field", bson.D{{"client", "client0"}, {"events", bson.A{}}, {"x", 1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var expected expectedEvents
			assert.Error(t, bson.Unmarshal(marshalDoc(t, tc.doc), &expected))
		})
	}
}

func TestVerifyEvents(t *testing.T) {
	startedInsert := bson.D{{"commandStartedEvent", bson.D{
		{"command", bson.D{{"insert", "coll"}, {"documents", bson.A{bson.D{{"_id", 1}}}}}},
		{"commandName", "insert"},
		{"databaseName", "db"},
		{"hasServerConnectionId", true},
		{"hasServiceId", false},
	}}}
	succeededInsert := bson.D{{"CommandSucceededEvent", bson.D{
		{"reply", bson.D{{"n", 1}}},
		{"commandName", "insert"},
	}}}

	testCases := []struct {
		name   string
		doc    bson.D
		errStr string
	}{
		{
			"match",
			bson.D{{"client", "client0"}, {"events", bson.A{startedInsert, succeededInsert}}},
			"",
		},
		{
			"extra events ignored",
			bson.D{{"client", "client0"}, {"events", bson.A{startedInsert}}, {"ignoreExtraEvents", true}},
			"",
		},
		{
			"cmap events skipped",
			bson.D{{"client", "client0"}, {"eventType", "cmap"}, {"events", bson.A{bson.D{{"poolCreatedEvent", bson.D{}}}}}},
			"",
		},
		{
			"too few events expected",
			bson.D{{"client", "client0"}, {"events", bson.A{startedInsert}}},
			"expected 1 events, got 2",
		},
		{
			"too many events expected",
			bson.D{{"client", "client0"}, {"events", bson.A{startedInsert, succeededInsert, startedInsert}}, {"ignoreExtraEvents", true}},
			"expected at least 3 events, got 2",
		},
		{
			"wrong event type",
			bson.D{{"client", "client0"}, {"events", bson.A{succeededInsert, startedInsert}}},
			"event comparison failed at index 0",
		},
		{
			"wrong command name",
			bson.D{{"client", "client0"}, {"events", bson.A{
				bson.D{{"commandStartedEvent", bson.D{{"commandName", "find"}}}},
				succeededInsert,
			}}},
			`expected command name "find", got "insert"`,
		},
		{
			"wrong database name",
			bson.D{{"client", "client0"}, {"events", bson.A{
				bson.D{{"commandStartedEvent", bson.D{{"databaseName", "other"}}}},
				succeededInsert,
			}}},
			`expected database name "other", got "db"`,
		},
		{
			"command mismatch",
			bson.D{{"client", "client0"}, {"events", bson.A{
				bson.D{{"commandStartedEvent", bson.D{{"command", bson.D{{"insert", "other"}}}}}},
				succeededInsert,
			}}},
			"error comparing command documents",
		},
		{
			"service id mismatch",
			bson.D{{"client", "client0"}, {"events", bson.A{
				bson.D{{"commandStartedEvent", bson.D{{"hasServiceId", true}}}},
				succeededInsert,
			}}},
			"server ID",
		},
		{
			"unknown event type",
			bson.D{{"client", "client0"}, {"eventType", "sdam"}, {"events", bson.A{}}},
			`unexpected event type "sdam"`,
		},
		{
			"unknown client",
			bson.D{{"client", "client1"}, {"events", bson.A{}}},
			`no client entity found with ID "client1"`,
		},
		{
			"unrecognized expected field",
			bson.D{{"client", "client0"}, {"events", bson.A{
				bson.D{{"commandStartedEvent", bson.D{{"bogus", 1}}}},
				succeededInsert,
			}}},
			"unrecognized fields",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newEventTestContext(t)

			err := verifyEvents(ctx, parseExpectedEvents(t, tc.doc))
			if tc.errStr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errStr)
		})
	}

	t.Run("diagnostics list all events", func(t *testing.T) {
		ctx := newEventTestContext(t)

		err := verifyEvents(ctx, parseExpectedEvents(t, bson.D{{"client", "client0"}, {"events", bson.A{}}}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "0: CommandStartedEvent")
		assert.Contains(t, err.Error(), "1: CommandSucceededEvent")
	})
}
