// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package config

// DefaultSkips lists tests the runner knows it cannot pass against the Go driver's feature set.
var DefaultSkips = []Skip{
	{
		File:   "poc-command-monitoring",
		Test:   "A successful find event with a getmore and the server kills the cursor",
		Reason: "cursor is killed server-side with killCursors on a different connection",
	},
	{File: "snapshot-sessions", Test: "Distinct operation with snapshot", Reason: "distinct does not support snapshot reads"},
	{File: "snapshot-sessions", Test: "Mixed operation with snapshot", Reason: "distinct does not support snapshot reads"},
	{File: "poc-crud", Reason: "uses a deprecated aggregate $out form"},
	{File: "db-aggregate", Reason: "database-level aggregate with $currentOp is not portable across deployments"},
	{File: "mongos-unpin", Reason: "requires unpinning sessions outside a transaction"},
	{File: "assertNumberConnectionsCheckedOut", Reason: "connection pool events are not observed"},
	{File: "entity-client-cmap-events", Reason: "connection pool events are not observed"},
	{File: "expectedEventsForClient-eventType", Reason: "connection pool events are not observed"},
	{
		File:   "cursors are correctly pinned to connections for load-balanced clusters",
		Test:   "listCollections pins the cursor to a connection",
		Reason: "listCollections cursors are not pinned",
	},
	{
		File:   "cursors are correctly pinned to connections for load-balanced clusters",
		Test:   "listIndexes pins the cursor to a connection",
		Reason: "listIndexes cursors are not pinned",
	},
	{
		File:   "wait queue timeout errors include details about checked out connections",
		Reason: "the wait queue timeout error format differs",
	},
	{
		File:   "retryable reads handshake failures",
		Test:   "collection.findOne succeeds after retryable handshake network error",
		Reason: "findOne is not an operation of this runner",
	},
	{
		File:   "retryable reads handshake failures",
		Test:   "collection.findOne succeeds after retryable handshake server error (ShutdownInProgress)",
		Reason: "findOne is not an operation of this runner",
	},
	{
		File:   "retryable reads handshake failures",
		Test:   "collection.listIndexNames succeeds after retryable handshake network error",
		Reason: "listIndexNames is not an operation of this runner",
	},
	{
		File:   "retryable reads handshake failures",
		Test:   "collection.listIndexNames succeeds after retryable handshake server error (ShutdownInProgress)",
		Reason: "listIndexNames is not an operation of this runner",
	},
}

// DefaultUnsupportedEventTypes are event types test files may ask to observe that the runner accepts but ignores.
var DefaultUnsupportedEventTypes = []string{
	"poolCreatedEvent",
	"poolReadyEvent",
	"poolClearedEvent",
	"poolClosedEvent",
	"connectionCreatedEvent",
	"connectionReadyEvent",
	"connectionClosedEvent",
	"connectionCheckOutStartedEvent",
	"connectionCheckOutFailedEvent",
	"connectionCheckedOutEvent",
	"connectionCheckedInEvent",
	"serverDescriptionChangedEvent",
	"serverHeartbeatStartedEvent",
	"serverHeartbeatSucceededEvent",
	"serverHeartbeatFailedEvent",
	"topologyDescriptionChangedEvent",
}
