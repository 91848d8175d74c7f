// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

type monitoringEventType string

const (
	commandStartedEvent   monitoringEventType = "CommandStartedEvent"
	commandSucceededEvent monitoringEventType = "CommandSucceededEvent"
	commandFailedEvent    monitoringEventType = "CommandFailedEvent"
)

func monitoringEventTypeFromString(eventStr string) (monitoringEventType, bool) {
	switch strings.ToLower(eventStr) {
	case "commandstartedevent":
		return commandStartedEvent, true
	case "commandsucceededevent":
		return commandSucceededEvent, true
	case "commandfailedevent":
		return commandFailedEvent, true
	default:
		return "", false
	}
}

// observedEvent is one command monitoring notification. Accessors for data that an event kind does not carry report
// false rather than returning a zero value that could be mistaken for real data.
type observedEvent interface {
	eventType() monitoringEventType
	commandName() string
	databaseName() (string, bool)
	command() (bson.Raw, bool)
	reply() (bson.Raw, bool)
	requestID() int64
	serviceID() (*primitive.ObjectID, bool)
	serverConnectionID() (int64, bool)
	// document renders the event in the form stored by storeEventsAsEntities.
	document() bson.Raw
	fmt.Stringer
}

func getSecondsSinceEpoch() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second/time.Nanosecond)
}

func appendCommonEventFields(b *bsoncore.DocumentBuilder, name monitoringEventType, observedAt float64, commandName string,
	requestID int64, connectionID string, serviceID *primitive.ObjectID) *bsoncore.DocumentBuilder {

	b.AppendString("name", string(name)).
		AppendDouble("observedAt", observedAt).
		AppendString("commandName", commandName).
		AppendInt64("requestId", requestID).
		AppendString("connectionId", connectionID)
	if serviceID != nil {
		b.AppendString("serviceId", serviceID.Hex())
	}
	return b
}

type startedEvent struct {
	*event.CommandStartedEvent
	observedAt float64
}

var _ observedEvent = (*startedEvent)(nil)

func newStartedEvent(evt *event.CommandStartedEvent) *startedEvent {
	return &startedEvent{CommandStartedEvent: evt, observedAt: getSecondsSinceEpoch()}
}

func (*startedEvent) eventType() monitoringEventType  { return commandStartedEvent }
func (e *startedEvent) commandName() string           { return e.CommandName }
func (e *startedEvent) databaseName() (string, bool)  { return e.DatabaseName, true }
func (e *startedEvent) command() (bson.Raw, bool)     { return e.Command, true }
func (*startedEvent) reply() (bson.Raw, bool)         { return nil, false }
func (e *startedEvent) requestID() int64              { return e.RequestID }
func (e *startedEvent) serviceID() (*primitive.ObjectID, bool) {
	return e.ServiceID, e.ServiceID != nil
}

func (e *startedEvent) serverConnectionID() (int64, bool) {
	if e.ServerConnectionID64 == nil {
		return 0, false
	}
	return *e.ServerConnectionID64, true
}

func (e *startedEvent) document() bson.Raw {
	b := appendCommonEventFields(bsoncore.NewDocumentBuilder(), commandStartedEvent, e.observedAt, e.CommandName,
		e.RequestID, e.ConnectionID, e.ServiceID)
	b.AppendString("databaseName", e.DatabaseName)
	return bson.Raw(b.Build())
}

func (e *startedEvent) String() string {
	return fmt.Sprintf("%s{commandName: %q, databaseName: %q, command: %s}", commandStartedEvent, e.CommandName,
		e.DatabaseName, e.Command)
}

type succeededEvent struct {
	*event.CommandSucceededEvent
	observedAt float64
}

var _ observedEvent = (*succeededEvent)(nil)

func newSucceededEvent(evt *event.CommandSucceededEvent) *succeededEvent {
	return &succeededEvent{CommandSucceededEvent: evt, observedAt: getSecondsSinceEpoch()}
}

func (*succeededEvent) eventType() monitoringEventType { return commandSucceededEvent }
func (e *succeededEvent) commandName() string          { return e.CommandName }
func (*succeededEvent) databaseName() (string, bool)   { return "", false }
func (*succeededEvent) command() (bson.Raw, bool)      { return nil, false }
func (e *succeededEvent) reply() (bson.Raw, bool)      { return e.Reply, true }
func (e *succeededEvent) requestID() int64             { return e.RequestID }
func (e *succeededEvent) serviceID() (*primitive.ObjectID, bool) {
	return e.ServiceID, e.ServiceID != nil
}

func (e *succeededEvent) serverConnectionID() (int64, bool) {
	if e.ServerConnectionID64 == nil {
		return 0, false
	}
	return *e.ServerConnectionID64, true
}

func (e *succeededEvent) document() bson.Raw {
	b := appendCommonEventFields(bsoncore.NewDocumentBuilder(), commandSucceededEvent, e.observedAt, e.CommandName,
		e.RequestID, e.ConnectionID, e.ServiceID)
	b.AppendInt64("duration", e.Duration.Milliseconds())
	return bson.Raw(b.Build())
}

func (e *succeededEvent) String() string {
	return fmt.Sprintf("%s{commandName: %q, reply: %s}", commandSucceededEvent, e.CommandName, e.Reply)
}

type failedEvent struct {
	*event.CommandFailedEvent
	observedAt float64
}

var _ observedEvent = (*failedEvent)(nil)

func newFailedEvent(evt *event.CommandFailedEvent) *failedEvent {
	return &failedEvent{CommandFailedEvent: evt, observedAt: getSecondsSinceEpoch()}
}

func (*failedEvent) eventType() monitoringEventType { return commandFailedEvent }
func (e *failedEvent) commandName() string          { return e.CommandName }
func (*failedEvent) databaseName() (string, bool)   { return "", false }
func (*failedEvent) command() (bson.Raw, bool)      { return nil, false }

// The driver does not publish the server reply for failed commands.
func (*failedEvent) reply() (bson.Raw, bool) { return nil, false }
func (e *failedEvent) requestID() int64      { return e.RequestID }
func (e *failedEvent) serviceID() (*primitive.ObjectID, bool) {
	return e.ServiceID, e.ServiceID != nil
}

func (e *failedEvent) serverConnectionID() (int64, bool) {
	if e.ServerConnectionID64 == nil {
		return 0, false
	}
	return *e.ServerConnectionID64, true
}

func (e *failedEvent) document() bson.Raw {
	b := appendCommonEventFields(bsoncore.NewDocumentBuilder(), commandFailedEvent, e.observedAt, e.CommandName,
		e.RequestID, e.ConnectionID, e.ServiceID)
	b.AppendInt64("durationNanos", e.Duration.Nanoseconds()).
		AppendString("failure", e.Failure)
	return bson.Raw(b.Build())
}

func (e *failedEvent) String() string {
	return fmt.Sprintf("%s{commandName: %q, failure: %q}", commandFailedEvent, e.CommandName, e.Failure)
}
