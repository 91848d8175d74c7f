// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

// Setting the max document length high ensures log truncation does not interfere with tests whose commands or replies
// exceed the driver default.
const defaultMaxDocumentLen = 10_000

// reducedHeartbeatInterval is used by clients in tests that configure fail points.
const reducedHeartbeatInterval = 500 * time.Millisecond

// Security-sensitive commands that should be ignored in command monitoring by default.
var securitySensitiveCommands = map[string]struct{}{
	"authenticate":    {},
	"saslstart":       {},
	"saslcontinue":    {},
	"getnonce":        {},
	"createuser":      {},
	"updateuser":      {},
	"copydbgetnonce":  {},
	"copydbsaslstart": {},
	"copydb":          {},
}

func isSecuritySensitiveCommand(commandName string) bool {
	_, ok := securitySensitiveCommands[strings.ToLower(commandName)]
	return ok
}

func isHelloCommand(commandName string) bool {
	lower := strings.ToLower(commandName)
	return lower == "hello" || lower == "ismaster"
}

// storedEventList is one entry of storeEventsAsEntities.
type storedEventList struct {
	ID     string   `bson:"id"`
	Events []string `bson:"events"`
}

// observeLogMessages maps driver log components to the level at which they should be logged.
type observeLogMessages struct {
	Command         string `bson:"command"`
	Topology        string `bson:"topology"`
	ServerSelection string `bson:"serverSelection"`
	Connection      string `bson:"connection"`
}

// clientEntityOptions is the decoded form of a client entity declaration.
type clientEntityOptions struct {
	ID                       string                 `bson:"id"`
	URIOptions               bson.Raw               `bson:"uriOptions"`
	UseMultipleMongoses      *bool                  `bson:"useMultipleMongoses"`
	ObserveEvents            []string               `bson:"observeEvents"`
	IgnoredCommands          []string               `bson:"ignoreCommandMonitoringEvents"`
	ServerAPIOptions         *serverAPIOptions      `bson:"serverApi"`
	ObserveSensitiveCommands *bool                  `bson:"observeSensitiveCommands"`
	StoreEventsAsEntities    []storedEventList      `bson:"storeEventsAsEntities"`
	ObserveLogMessages       *observeLogMessages    `bson:"observeLogMessages"`
	Extra                    map[string]interface{} `bson:",inline"`
}

// clientEntity is a wrapper for a mongo.Client object that also holds additional information required during test
// execution.
type clientEntity struct {
	*mongo.Client
	id           string
	disconnected bool

	recordEvents atomic.Bool
	eventsMu     sync.Mutex
	events       []observedEvent

	// These should not be changed after the clientEntity is initialized.
	observedEvents           map[monitoringEventType]struct{}
	storedEvents             map[monitoringEventType][]string
	storedEventIDs           []string
	ignoredCommands          map[string]struct{}
	observeSensitiveCommands bool

	entityMap *EntityMap
}

func (*clientEntity) kind() entityKind { return clientKind }

func (c *clientEntity) close(ctx context.Context) error {
	return c.disconnect(ctx)
}

func newClientEntity(ctx context.Context, em *EntityMap, doc bson.Raw) (*clientEntity, error) {
	var opts clientEntityOptions
	if err := bson.Unmarshal(doc, &opts); err != nil {
		return nil, errors.Wrap(err, "error parsing client entity")
	}
	if len(opts.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'client.%s'", mapKeys(opts.Extra)[0])
	}

	ts := stateOf(ctx)
	log := ts.log.WithField(logger.FieldClient, opts.ID)

	entity := &clientEntity{
		id:              opts.ID,
		observedEvents:  make(map[monitoringEventType]struct{}),
		storedEvents:    make(map[monitoringEventType][]string),
		ignoredCommands: map[string]struct{}{"configureFailPoint": {}},
		entityMap:       em,
	}
	if opts.ObserveSensitiveCommands != nil {
		entity.observeSensitiveCommands = *opts.ObserveSensitiveCommands
	}
	for _, cmd := range opts.IgnoredCommands {
		entity.ignoredCommands[cmd] = struct{}{}
	}
	entity.recordEvents.Store(true)

	for _, eventTypeStr := range opts.ObserveEvents {
		eventType, ok := monitoringEventTypeFromString(eventTypeStr)
		if !ok {
			if ts.opts.Config.IsUnsupportedEventType(eventTypeStr) {
				log.Debugf("skipping unsupported event type %q", eventTypeStr)
				continue
			}
			return nil, errors.Errorf("unrecognized observed event type %q", eventTypeStr)
		}
		entity.observedEvents[eventType] = struct{}{}
	}

	for _, list := range opts.StoreEventsAsEntities {
		if list.ID == "" {
			return nil, errors.New("storeEventsAsEntities entry is missing required field \"id\"")
		}
		if list.ID == opts.ID {
			return nil, errors.Errorf("storeEventsAsEntities ID %q is the ID of the client itself", list.ID)
		}
		if err := em.verifyStoredEventArrayID(list.ID); err != nil {
			return nil, err
		}
		entity.storedEventIDs = append(entity.storedEventIDs, list.ID)
		for _, eventTypeStr := range list.Events {
			eventType, ok := monitoringEventTypeFromString(eventTypeStr)
			if !ok {
				if ts.opts.Config.IsUnsupportedEventType(eventTypeStr) {
					log.Debugf("skipping unsupported stored event type %q", eventTypeStr)
					continue
				}
				return nil, errors.Errorf("unrecognized stored event type %q", eventTypeStr)
			}
			entity.storedEvents[eventType] = append(entity.storedEvents[eventType], list.ID)
		}
	}

	// Construct a ClientOptions instance by first applying the cluster URI and then the URI options document so the
	// options specified in the test file take precedence.
	uri, err := getURIForClient(ts.deployment, opts.UseMultipleMongoses)
	if err != nil {
		return nil, err
	}
	clientOpts := options.Client().ApplyURI(uri)

	heartbeatSet := false
	if opts.URIOptions != nil {
		heartbeatSet, err = setClientOptionsFromURIOptions(clientOpts, opts.URIOptions)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing URI options")
		}
	}
	if ts.reduceHeartbeat && !heartbeatSet {
		clientOpts.SetHeartbeatInterval(reducedHeartbeatInterval)
	}

	if ts.deployment.Topology != mtest.LoadBalanced && opts.UseMultipleMongoses != nil {
		if err := evaluateUseMultipleMongoses(clientOpts, ts.deployment, *opts.UseMultipleMongoses); err != nil {
			return nil, err
		}
	}

	if olm := opts.ObserveLogMessages; olm != nil {
		clientOpts.SetLoggerOptions(options.Logger().
			SetSink(logger.DriverSink(log)).
			SetComponentLevel(options.LogComponentCommand, logger.DriverLevel(olm.Command)).
			SetComponentLevel(options.LogComponentTopology, logger.DriverLevel(olm.Topology)).
			SetComponentLevel(options.LogComponentServerSelection, logger.DriverLevel(olm.ServerSelection)).
			SetComponentLevel(options.LogComponentConnection, logger.DriverLevel(olm.Connection)).
			SetMaxDocumentLength(defaultMaxDocumentLen))
	}

	if len(entity.observedEvents) > 0 || len(entity.storedEvents) > 0 {
		clientOpts.SetMonitor(&event.CommandMonitor{
			Started: func(_ context.Context, evt *event.CommandStartedEvent) {
				entity.processEvent(newStartedEvent(evt))
			},
			Succeeded: func(_ context.Context, evt *event.CommandSucceededEvent) {
				entity.processEvent(newSucceededEvent(evt))
			},
			Failed: func(_ context.Context, evt *event.CommandFailedEvent) {
				entity.processEvent(newFailedEvent(evt))
			},
		})
	}

	if opts.ServerAPIOptions != nil {
		clientOpts.SetServerAPIOptions(opts.ServerAPIOptions.ServerAPIOptions)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "error creating mongo.Client")
	}
	log.Debug("client entity connected")

	entity.Client = client
	return entity, nil
}

// verifyStoredEventArrayID checks that id can hold stored events: it must be unused or already a bson_array entity.
func (em *EntityMap) verifyStoredEventArrayID(id string) error {
	e, err := em.lookup(id)
	if err != nil {
		return nil
	}
	if e.kind() != bsonArrayKind {
		return fmt.Errorf("non-BSON array entity with ID %q already exists", id)
	}
	return nil
}

// registerStoredEventArrays creates the bson_array entities that receive stored events. It runs once the client has
// been constructed so a failure to connect leaves no arrays behind.
func (c *clientEntity) registerStoredEventArrays() error {
	for _, id := range c.storedEventIDs {
		if err := c.entityMap.addBSONArrayEntity(id); err != nil {
			return err
		}
	}
	return nil
}

func getURIForClient(d *mtest.Deployment, useMultipleMongoses *bool) (string, error) {
	if d.Serverless || d.Topology != mtest.LoadBalanced {
		return d.URI, nil
	}

	// For load-balanced deployments, useMultipleMongoses determines the load balancer URI. If set to false, the LB
	// fronts a single server. If unset or explicitly true, the LB fronts multiple mongos servers.
	var uri string
	if useMultipleMongoses != nil && !*useMultipleMongoses {
		uri = d.SingleMongosLoadBalancerURI
	} else {
		uri = d.MultiMongosLoadBalancerURI
	}
	if uri == "" {
		return "", errors.New("load balancer URI is not configured")
	}
	return uri, nil
}

// evaluateUseMultipleMongoses applies useMultipleMongoses for deployments that are not load balanced. Only mongos
// deployments are affected: false pins the client to the first host, true requires at least two.
func evaluateUseMultipleMongoses(clientOpts *options.ClientOptions, d *mtest.Deployment, useMultipleMongoses bool) error {
	if d.Topology != mtest.Sharded {
		return nil
	}
	if !useMultipleMongoses {
		clientOpts.SetHosts(d.Hosts[:1])
		return nil
	}
	if len(d.Hosts) < 2 {
		return fmt.Errorf("multiple mongoses required but cluster URI %q only contains one host", d.URI)
	}
	return nil
}

// uriOptionValue reads one uriOptions value and records the first type mismatch instead of panicking.
type uriOptionValue struct {
	key string
	val bson.RawValue
	err error
}

func (v *uriOptionValue) typeError(expected string) {
	if v.err == nil {
		v.err = fmt.Errorf("expected URI option %s to be %s, got %s", v.key, expected, v.val.Type)
	}
}

func (v *uriOptionValue) str() string {
	s, ok := v.val.StringValueOK()
	if !ok {
		v.typeError("a string")
	}
	return s
}

func (v *uriOptionValue) boolean() bool {
	b, ok := v.val.BooleanOK()
	if !ok {
		v.typeError("a boolean")
	}
	return b
}

func (v *uriOptionValue) integer() int64 {
	i, ok := v.val.AsInt64OK()
	if !ok {
		v.typeError("a number")
	}
	return i
}

func (v *uriOptionValue) unsigned() uint64 {
	i := v.integer()
	if i < 0 {
		v.typeError("non-negative")
		return 0
	}
	return uint64(i)
}

func (v *uriOptionValue) duration() time.Duration {
	return time.Duration(v.integer()) * time.Millisecond
}

// setClientOptionsFromURIOptions applies the uriOptions document to clientOpts. It reports whether the document set
// heartbeatFrequencyMS.
func setClientOptionsFromURIOptions(clientOpts *options.ClientOptions, uriOpts bson.Raw) (bool, error) {
	// A write concern can be constructed across multiple URI options (e.g. "w", "journal" and "wTimeoutMS") so it is
	// populated in the loop and applied afterwards.
	var wc writeConcern
	var wcSet, heartbeatSet bool

	elems, err := uriOpts.Elements()
	if err != nil {
		return false, err
	}
	for _, elem := range elems {
		key := elem.Key()
		v := &uriOptionValue{key: key, val: elem.Value()}

		switch strings.ToLower(key) {
		case "appname":
			clientOpts.SetAppName(v.str())
		case "connecttimeoutms":
			clientOpts.SetConnectTimeout(v.duration())
		case "heartbeatfrequencyms":
			clientOpts.SetHeartbeatInterval(v.duration())
			heartbeatSet = true
		case "loadbalanced":
			clientOpts.SetLoadBalanced(v.boolean())
		case "maxidletimems":
			clientOpts.SetMaxConnIdleTime(v.duration())
		case "minpoolsize":
			clientOpts.SetMinPoolSize(v.unsigned())
		case "maxpoolsize":
			clientOpts.SetMaxPoolSize(v.unsigned())
		case "maxconnecting":
			clientOpts.SetMaxConnecting(v.unsigned())
		case "readconcernlevel":
			clientOpts.SetReadConcern(&readconcern.ReadConcern{Level: v.str()})
		case "retryreads":
			clientOpts.SetRetryReads(v.boolean())
		case "retrywrites":
			clientOpts.SetRetryWrites(v.boolean())
		case "sockettimeoutms":
			clientOpts.SetSocketTimeout(v.duration())
		case "serverselectiontimeoutms":
			clientOpts.SetServerSelectionTimeout(v.duration())
		case "timeoutms":
			clientOpts.SetTimeout(v.duration())
		case "directconnection":
			clientOpts.SetDirect(v.boolean())
		case "compressors":
			arr, ok := v.val.ArrayOK()
			if !ok {
				v.typeError("an array")
				break
			}
			compressors, err := bsonutil.StringSlice(arr)
			if err != nil {
				return false, err
			}
			clientOpts.SetCompressors(compressors)
		case "w":
			if err := v.val.Unmarshal(&wc.W); err != nil {
				return false, err
			}
			wcSet = true
		case "journal":
			j := v.boolean()
			wc.Journal = &j
			wcSet = true
		case "wtimeoutms":
			ms := v.integer()
			wc.WTimeoutMS = &ms
			wcSet = true
		default:
			return false, fmt.Errorf("unrecognized URI option %s", key)
		}
		if v.err != nil {
			return false, v.err
		}
	}

	if wcSet {
		converted, err := wc.toWriteConcernOption()
		if err != nil {
			return false, fmt.Errorf("error creating write concern: %v", err)
		}
		clientOpts.SetWriteConcern(converted)
	}
	return heartbeatSet, nil
}

// disconnect disconnects the client associated with this entity. It is idempotent, unlike mongo.Client.Disconnect.
func (c *clientEntity) disconnect(ctx context.Context) error {
	if c.disconnected || c.Client == nil {
		return nil
	}
	if err := c.Client.Disconnect(ctx); err != nil {
		return err
	}
	c.disconnected = true
	return nil
}

func (c *clientEntity) stopListeningForEvents() {
	c.recordEvents.Store(false)
}

// isIgnoredCommand reports whether events for the command are suppressed regardless of the event type.
func (c *clientEntity) isIgnoredCommand(evt observedEvent) bool {
	name := evt.commandName()
	if _, ok := c.ignoredCommands[name]; ok {
		return true
	}
	if c.observeSensitiveCommands {
		return false
	}
	if isSecuritySensitiveCommand(name) {
		return true
	}
	if !isHelloCommand(name) {
		return false
	}

	// The driver redacts hello commands and replies that carry speculativeAuthenticate to an empty document.
	body, ok := evt.command()
	if !ok {
		body, ok = evt.reply()
	}
	if !ok {
		return false
	}
	if len(body) == 0 || len(body) == 5 {
		return true
	}
	_, err := body.LookupErr("speculativeAuthenticate")
	return err == nil
}

// shouldIgnoreEvent reports whether evt is excluded from the client's observed events.
func (c *clientEntity) shouldIgnoreEvent(evt observedEvent) bool {
	if _, ok := c.observedEvents[evt.eventType()]; !ok {
		return true
	}
	return c.isIgnoredCommand(evt)
}

func (c *clientEntity) processEvent(evt observedEvent) {
	if !c.recordEvents.Load() {
		return
	}

	// Stored events are appended for every matching type whether or not the type is observed.
	if ids, ok := c.storedEvents[evt.eventType()]; ok {
		doc := evt.document()
		for _, id := range ids {
			_ = c.entityMap.appendBSONArrayEntity(id, doc)
		}
	}

	if c.shouldIgnoreEvent(evt) {
		return
	}

	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	c.events = append(c.events, evt)
}

// observed returns a copy of the observed events in the order they were published.
func (c *clientEntity) observed() []observedEvent {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	return append([]observedEvent(nil), c.events...)
}

// lastTwoStartedEvents returns the two most recent observed started events, oldest first.
func (c *clientEntity) lastTwoStartedEvents() (*startedEvent, *startedEvent, error) {
	var started []*startedEvent
	for _, evt := range c.observed() {
		if se, ok := evt.(*startedEvent); ok {
			started = append(started, se)
		}
	}
	if len(started) < 2 {
		return nil, nil, fmt.Errorf("client %q observed %d CommandStartedEvents, expected at least 2", c.id,
			len(started))
	}
	return started[len(started)-2], started[len(started)-1], nil
}
