// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"bytes"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// expectedEvents is one entry of a test's expectEvents array.
type expectedEvents struct {
	ClientID          string
	EventType         string
	Events            []bson.Raw
	IgnoreExtraEvents bool
}

var _ bson.Unmarshaler = (*expectedEvents)(nil)

func (e *expectedEvents) UnmarshalBSON(data []byte) error {
	var temp struct {
		ClientID          string                 `bson:"client"`
		EventType         string                 `bson:"eventType"`
		Events            bson.RawValue          `bson:"events"`
		IgnoreExtraEvents bool                   `bson:"ignoreExtraEvents"`
		Extra             map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary expectedEvents object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for expectedEvents: %v", mapKeys(temp.Extra))
	}
	if temp.ClientID == "" {
		return newMissingArgumentError("client")
	}
	if temp.Events.Type != bsontype.Array {
		return fmt.Errorf("expected 'events' to be an array but got a %q", temp.Events.Type)
	}

	events, err := temp.Events.Array().Values()
	if err != nil {
		return fmt.Errorf("error reading events array: %v", err)
	}
	e.ClientID = temp.ClientID
	e.EventType = temp.EventType
	e.IgnoreExtraEvents = temp.IgnoreExtraEvents
	e.Events = make([]bson.Raw, 0, len(events))
	for idx, evt := range events {
		doc, ok := evt.DocumentOK()
		if !ok {
			return fmt.Errorf("expected event at index %d to be a document, got %s", idx, evt.Type)
		}
		e.Events = append(e.Events, doc)
	}
	return nil
}

// expectedCommandEvent is the body of an expected command monitoring event.
type expectedCommandEvent struct {
	Command               bson.Raw               `bson:"command"`
	Reply                 bson.Raw               `bson:"reply"`
	CommandName           *string                `bson:"commandName"`
	DatabaseName          *string                `bson:"databaseName"`
	HasServiceID          *bool                  `bson:"hasServiceId"`
	HasServerConnectionID *bool                  `bson:"hasServerConnectionId"`
	Extra                 map[string]interface{} `bson:",inline"`
}

func verifyEvents(ctx context.Context, expected *expectedEvents) error {
	switch expected.EventType {
	case "", "command":
	case "cmap":
		// Connection pool events are not observed.
		runnerLogger(ctx).Debugf("skipping cmap event expectations for client %q", expected.ClientID)
		return nil
	default:
		return fmt.Errorf("unexpected event type %q", expected.EventType)
	}

	client, err := entities(ctx).client(expected.ClientID)
	if err != nil {
		return err
	}
	actual := client.observed()

	if expected.IgnoreExtraEvents {
		if len(actual) < len(expected.Events) {
			return newEventCountError(client, actual, "expected at least %d events, got %d", len(expected.Events),
				len(actual))
		}
	} else if len(actual) != len(expected.Events) {
		return newEventCountError(client, actual, "expected %d events, got %d", len(expected.Events), len(actual))
	}

	for idx, evt := range expected.Events {
		if err := verifyEvent(ctx, evt, actual[idx]); err != nil {
			return newEventVerificationError(idx, client, actual, err)
		}
	}
	return nil
}

// verifyEvent compares a {<event type>: {...}} document against an observed event.
func verifyEvent(ctx context.Context, expected bson.Raw, actual observedEvent) error {
	elems, err := expected.Elements()
	if err != nil {
		return err
	}
	if len(elems) != 1 {
		return fmt.Errorf("expected event document to have exactly one key, got %d", len(elems))
	}

	typeStr := elems[0].Key()
	evtType, ok := monitoringEventTypeFromString(typeStr)
	if !ok {
		return fmt.Errorf("unrecognized event type %q", typeStr)
	}
	if evtType != actual.eventType() {
		return fmt.Errorf("expected event type %q, got %q", evtType, actual.eventType())
	}

	var exp expectedCommandEvent
	if err := elems[0].Value().Unmarshal(&exp); err != nil {
		return fmt.Errorf("error unmarshalling expected %s: %v", typeStr, err)
	}
	if len(exp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for %s: %v", typeStr, mapKeys(exp.Extra))
	}

	if exp.Command != nil {
		cmd, ok := actual.command()
		if !ok {
			return fmt.Errorf("%s does not have a command", evtType)
		}
		if err := verifyValuesMatch(ctx, documentToRawValue(exp.Command), documentToRawValue(cmd), true); err != nil {
			return fmt.Errorf("error comparing command documents: %v", err)
		}
	}
	if exp.Reply != nil {
		reply, ok := actual.reply()
		if !ok {
			return fmt.Errorf("%s does not have a reply", evtType)
		}
		if err := verifyValuesMatch(ctx, documentToRawValue(exp.Reply), documentToRawValue(reply), true); err != nil {
			return fmt.Errorf("error comparing reply documents: %v", err)
		}
	}
	if exp.CommandName != nil && *exp.CommandName != actual.commandName() {
		return fmt.Errorf("expected command name %q, got %q", *exp.CommandName, actual.commandName())
	}
	if exp.DatabaseName != nil {
		dbName, ok := actual.databaseName()
		if !ok {
			return fmt.Errorf("%s does not have a database name", evtType)
		}
		if *exp.DatabaseName != dbName {
			return fmt.Errorf("expected database name %q, got %q", *exp.DatabaseName, dbName)
		}
	}
	if exp.HasServiceID != nil {
		if _, has := actual.serviceID(); has != *exp.HasServiceID {
			return fmt.Errorf("expected event to have server ID: %v, event has server ID: %v", *exp.HasServiceID, has)
		}
	}
	if exp.HasServerConnectionID != nil {
		if _, has := actual.serverConnectionID(); has != *exp.HasServerConnectionID {
			return fmt.Errorf("expected event to have server connection ID: %v, event has server connection ID: %v",
				*exp.HasServerConnectionID, has)
		}
	}
	return nil
}

func documentToRawValue(doc bson.Raw) bson.RawValue {
	return bson.RawValue{Type: bsontype.EmbeddedDocument, Value: doc}
}

func stringifyEvents(events []observedEvent) string {
	var buf bytes.Buffer
	for idx, evt := range events {
		fmt.Fprintf(&buf, "\n  %d: %s", idx, evt)
	}
	if buf.Len() == 0 {
		return " none"
	}
	return buf.String()
}

func newEventCountError(client *clientEntity, actual []observedEvent, format string, args ...interface{}) error {
	return fmt.Errorf("event count mismatch for client %q: %s; all events found for client:%s", client.id,
		fmt.Sprintf(format, args...), stringifyEvents(actual))
}

func newEventVerificationError(idx int, client *clientEntity, actual []observedEvent, err error) error {
	return fmt.Errorf("event comparison failed at index %d for client %q: %v; all events found for client:%s", idx,
		client.id, err, stringifyEvents(actual))
}
