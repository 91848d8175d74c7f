// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

type entityKind string

const (
	clientKind           entityKind = "client"
	clientEncryptionKind entityKind = "clientEncryption"
	databaseKind         entityKind = "database"
	collectionKind       entityKind = "collection"
	sessionKind          entityKind = "session"
	bucketKind           entityKind = "bucket"
	changeStreamKind     entityKind = "changestream"
	findCursorKind       entityKind = "findcursor"
	bsonKind             entityKind = "bson"
	bsonArrayKind        entityKind = "bson_array"
	counterKind          entityKind = "size_t"
)

// entity is implemented by every value that can be stored in an EntityMap. The methods are unexported so the set of
// entity types is closed to this package, and each type releases its own driver resources.
type entity interface {
	kind() entityKind
	close(ctx context.Context) error
}

// The cursor interface defines the methods that must be implemented by iterable types that can be stored in an
// EntityMap. mongo.Cursor and mongo.ChangeStream both satisfy it.
type cursor interface {
	Close(context.Context) error
	Decode(interface{}) error
	Err() error
	Next(context.Context) bool
	TryNext(context.Context) bool
}

type databaseEntity struct{ *mongo.Database }

func (*databaseEntity) kind() entityKind            { return databaseKind }
func (*databaseEntity) close(context.Context) error { return nil }

type collectionEntity struct{ *mongo.Collection }

func (*collectionEntity) kind() entityKind            { return collectionKind }
func (*collectionEntity) close(context.Context) error { return nil }

type bucketEntity struct{ *gridfs.Bucket }

func (*bucketEntity) kind() entityKind            { return bucketKind }
func (*bucketEntity) close(context.Context) error { return nil }

// sessionEntity keeps the lsid of the session so it can still be matched with $$sessionLsid after the session has
// been ended.
type sessionEntity struct {
	sess     mongo.Session
	lsid     bson.Raw
	clientID string
}

func (*sessionEntity) kind() entityKind { return sessionKind }

func (se *sessionEntity) close(ctx context.Context) error {
	if se.sess != nil {
		se.sess.EndSession(ctx)
		se.sess = nil
	}
	return nil
}

type changeStreamEntity struct{ *mongo.ChangeStream }

func (*changeStreamEntity) kind() entityKind { return changeStreamKind }

func (cs *changeStreamEntity) close(ctx context.Context) error {
	return cs.ChangeStream.Close(ctx)
}

type findCursorEntity struct{ *mongo.Cursor }

func (*findCursorEntity) kind() entityKind { return findCursorKind }

func (fc *findCursorEntity) close(ctx context.Context) error {
	return fc.Cursor.Close(ctx)
}

type bsonEntity struct{ val bson.RawValue }

func (*bsonEntity) kind() entityKind            { return bsonKind }
func (*bsonEntity) close(context.Context) error { return nil }

// bsonArrayEntity is appended to from command monitoring callbacks, which may run on driver goroutines.
type bsonArrayEntity struct {
	mu   sync.Mutex
	docs []bson.Raw
}

func (*bsonArrayEntity) kind() entityKind            { return bsonArrayKind }
func (*bsonArrayEntity) close(context.Context) error { return nil }

func (ba *bsonArrayEntity) append(doc bson.Raw) {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	ba.docs = append(ba.docs, doc)
}

func (ba *bsonArrayEntity) documents() []bson.Raw {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	return append([]bson.Raw{}, ba.docs...)
}

// array returns the stored documents as a BSON array.
func (ba *bsonArrayEntity) array() bson.Raw {
	return bsonutil.DocumentsToArray(ba.documents())
}

type counterEntity struct{ n atomic.Int64 }

func (*counterEntity) kind() entityKind            { return counterKind }
func (*counterEntity) close(context.Context) error { return nil }

// entityNotFoundError is returned when no entity is registered under an ID.
type entityNotFoundError struct {
	id   string
	kind entityKind
}

func (e *entityNotFoundError) Error() string {
	if e.kind == "" {
		return fmt.Sprintf("no entity found with ID %q", e.id)
	}
	return fmt.Sprintf("no %s entity found with ID %q", e.kind, e.id)
}

// entityTypeError is returned when an entity exists but is not of the requested kind.
type entityTypeError struct {
	id       string
	expected entityKind
	actual   entityKind
}

func (e *entityTypeError) Error() string {
	return fmt.Sprintf("entity with ID %q has type %s, expected %s", e.id, e.actual, e.expected)
}

// endedSessionError is returned when a session entity is used after endSession.
type endedSessionError struct {
	id string
}

func (e *endedSessionError) Error() string {
	return fmt.Sprintf("session entity %q has been ended and cannot be used", e.id)
}

// EntityMap is used to store entities during tests. This type enforces uniqueness so no two entities can have the same
// ID, even if they are of different types. It also enforces referential integrity so construction of an entity that
// references another (e.g. a database entity references a client) will fail if the referenced entity does not exist.
// Entities are closed in reverse creation order.
type EntityMap struct {
	mu       sync.RWMutex
	entities map[string]entity
	order    []string
	closed   bool
}

func newEntityMap() *EntityMap {
	return &EntityMap{
		entities: make(map[string]entity),
	}
}

func (em *EntityMap) verifyEntityDoesNotExist(id string) error {
	if _, ok := em.entities[id]; ok {
		return fmt.Errorf("entity with ID %q already exists", id)
	}
	return nil
}

func (em *EntityMap) add(id string, e entity) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if err := em.verifyEntityDoesNotExist(id); err != nil {
		return err
	}
	em.entities[id] = e
	em.order = append(em.order, id)
	return nil
}

func (em *EntityMap) exists(id string) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	_, ok := em.entities[id]
	return ok
}

func (em *EntityMap) lookup(id string) (entity, error) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	e, ok := em.entities[id]
	if !ok {
		return nil, &entityNotFoundError{id: id}
	}
	return e, nil
}

func (em *EntityMap) lookupKind(id string, kind entityKind) (entity, error) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	e, ok := em.entities[id]
	if !ok {
		return nil, &entityNotFoundError{id: id, kind: kind}
	}
	if e.kind() != kind {
		return nil, &entityTypeError{id: id, expected: kind, actual: e.kind()}
	}
	return e, nil
}

func (em *EntityMap) addBSONEntity(id string, val bson.RawValue) error {
	// Copy the value so it does not alias a buffer owned by the driver.
	copied := bson.RawValue{Type: val.Type, Value: append([]byte(nil), val.Value...)}
	return em.add(id, &bsonEntity{val: copied})
}

func (em *EntityMap) addCursorEntity(id string, c cursor) error {
	switch typed := c.(type) {
	case *mongo.ChangeStream:
		return em.add(id, &changeStreamEntity{typed})
	case *mongo.Cursor:
		return em.add(id, &findCursorEntity{typed})
	default:
		return fmt.Errorf("cannot store cursor of type %T as an entity", c)
	}
}

// addBSONArrayEntity creates an empty BSON array entity. An existing BSON array entity with the same ID is reused.
func (em *EntityMap) addBSONArrayEntity(id string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if existing, ok := em.entities[id]; ok {
		if existing.kind() != bsonArrayKind {
			return fmt.Errorf("non-BSON array entity with ID %q already exists", id)
		}
		return nil
	}
	em.entities[id] = &bsonArrayEntity{}
	em.order = append(em.order, id)
	return nil
}

func (em *EntityMap) addCounterEntity(id string) error {
	return em.add(id, &counterEntity{})
}

func (em *EntityMap) appendBSONArrayEntity(id string, doc bson.Raw) error {
	arr, err := em.bsonArray(id)
	if err != nil {
		return err
	}
	arr.append(doc)
	return nil
}

func (em *EntityMap) incrementCounter(id string) error {
	c, err := em.counter(id)
	if err != nil {
		return err
	}
	c.n.Add(1)
	return nil
}

func (em *EntityMap) client(id string) (*clientEntity, error) {
	e, err := em.lookupKind(id, clientKind)
	if err != nil {
		return nil, err
	}
	return e.(*clientEntity), nil
}

func (em *EntityMap) clientEncryption(id string) (*clientEncryptionEntity, error) {
	e, err := em.lookupKind(id, clientEncryptionKind)
	if err != nil {
		return nil, err
	}
	return e.(*clientEncryptionEntity), nil
}

func (em *EntityMap) database(id string) (*mongo.Database, error) {
	e, err := em.lookupKind(id, databaseKind)
	if err != nil {
		return nil, err
	}
	return e.(*databaseEntity).Database, nil
}

func (em *EntityMap) collection(id string) (*mongo.Collection, error) {
	e, err := em.lookupKind(id, collectionKind)
	if err != nil {
		return nil, err
	}
	return e.(*collectionEntity).Collection, nil
}

func (em *EntityMap) gridFSBucket(id string) (*gridfs.Bucket, error) {
	e, err := em.lookupKind(id, bucketKind)
	if err != nil {
		return nil, err
	}
	return e.(*bucketEntity).Bucket, nil
}

// sessionEntity returns the session entity itself, which remains available after the session has been ended.
func (em *EntityMap) sessionEntity(id string) (*sessionEntity, error) {
	e, err := em.lookupKind(id, sessionKind)
	if err != nil {
		return nil, err
	}
	return e.(*sessionEntity), nil
}

// session returns a live session. It fails with an endedSessionError if the session has been ended.
func (em *EntityMap) session(id string) (mongo.Session, error) {
	se, err := em.sessionEntity(id)
	if err != nil {
		return nil, err
	}
	if se.sess == nil {
		return nil, &endedSessionError{id: id}
	}
	return se.sess, nil
}

func (em *EntityMap) cursor(id string) (cursor, error) {
	e, err := em.lookup(id)
	if err != nil {
		return nil, err
	}
	switch typed := e.(type) {
	case *changeStreamEntity:
		return typed.ChangeStream, nil
	case *findCursorEntity:
		return typed.Cursor, nil
	default:
		return nil, &entityTypeError{id: id, expected: "changestream or findcursor", actual: e.kind()}
	}
}

// BSONValue returns the value stored in the bson entity with the given ID.
func (em *EntityMap) BSONValue(id string) (bson.RawValue, error) {
	e, err := em.lookupKind(id, bsonKind)
	if err != nil {
		return emptyRawValue, err
	}
	return e.(*bsonEntity).val, nil
}

func (em *EntityMap) bsonArray(id string) (*bsonArrayEntity, error) {
	e, err := em.lookupKind(id, bsonArrayKind)
	if err != nil {
		return nil, err
	}
	return e.(*bsonArrayEntity), nil
}

// BSONArray returns the documents stored in the bson_array entity with the given ID.
func (em *EntityMap) BSONArray(id string) ([]bson.Raw, error) {
	arr, err := em.bsonArray(id)
	if err != nil {
		return nil, err
	}
	return arr.documents(), nil
}

func (em *EntityMap) counter(id string) (*counterEntity, error) {
	e, err := em.lookupKind(id, counterKind)
	if err != nil {
		return nil, err
	}
	return e.(*counterEntity), nil
}

// Counter returns the value of the size_t entity with the given ID.
func (em *EntityMap) Counter(id string) (int64, error) {
	c, err := em.counter(id)
	if err != nil {
		return 0, err
	}
	return c.n.Load(), nil
}

// clients returns every client entity in creation order.
func (em *EntityMap) clients() []*clientEntity {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var out []*clientEntity
	for _, id := range em.order {
		if ce, ok := em.entities[id].(*clientEntity); ok {
			out = append(out, ce)
		}
	}
	return out
}

// collections returns every collection entity in creation order.
func (em *EntityMap) collections() []*mongo.Collection {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var out []*mongo.Collection
	for _, id := range em.order {
		if ce, ok := em.entities[id].(*collectionEntity); ok {
			out = append(out, ce.Collection)
		}
	}
	return out
}

// deleteEntity removes the entity from the map and releases it.
func (em *EntityMap) deleteEntity(ctx context.Context, id string) error {
	em.mu.Lock()
	e, ok := em.entities[id]
	if !ok {
		em.mu.Unlock()
		return &entityNotFoundError{id: id}
	}
	delete(em.entities, id)
	for idx, existing := range em.order {
		if existing == id {
			em.order = append(em.order[:idx], em.order[idx+1:]...)
			break
		}
	}
	em.mu.Unlock()

	return e.close(ctx)
}

// endSession ends the session but keeps the entity so its lsid stays available.
func (em *EntityMap) endSession(ctx context.Context, id string) error {
	se, err := em.sessionEntity(id)
	if err != nil {
		return err
	}
	if se.sess == nil {
		return &endedSessionError{id: id}
	}
	return se.close(ctx)
}

// create constructs the entity described by spec, which must have the form {<entity type>: {id: <id>, ...}}. Nothing
// is added to the map if construction fails.
func (em *EntityMap) create(ctx context.Context, spec bson.Raw) error {
	elems, err := spec.Elements()
	if err != nil {
		return errors.Wrap(err, "error reading entity declaration")
	}
	if len(elems) != 1 {
		return errors.Errorf("entity declaration must have exactly one key, got %d", len(elems))
	}

	entityType := elems[0].Key()
	doc, ok := elems[0].Value().DocumentOK()
	if !ok {
		return errors.Errorf("expected %s entity declaration to be a document, got %s", entityType,
			elems[0].Value().Type)
	}
	id, ok := doc.Lookup("id").StringValueOK()
	if !ok {
		return errors.Errorf("%s entity declaration is missing a string id", entityType)
	}
	if em.exists(id) {
		return fmt.Errorf("entity with ID %q already exists", id)
	}

	var e entity
	switch entityType {
	case "client":
		e, err = newClientEntity(ctx, em, doc)
	case "clientEncryption":
		e, err = newClientEncryptionEntity(ctx, em, doc)
	case "database":
		e, err = newDatabaseEntity(em, doc)
	case "collection":
		e, err = newCollectionEntity(em, doc)
	case "session":
		e, err = newSessionEntity(em, doc)
	case "bucket":
		e, err = newBucketEntity(em, doc)
	default:
		return errors.Errorf("unrecognized entity type %q", entityType)
	}
	if err != nil {
		return errors.Wrapf(err, "error constructing entity of type %q", entityType)
	}

	// Stored event arrays must exist before the client is visible in the map.
	if ce, ok := e.(*clientEntity); ok {
		if err := ce.registerStoredEventArrays(); err != nil {
			_ = e.close(ctx)
			return err
		}
	}
	if err := em.add(id, e); err != nil {
		_ = e.close(ctx)
		return err
	}
	return nil
}

// close releases every entity in reverse creation order. Subsequent calls are no-ops. Errors are collected rather than
// returned early so every entity is released.
func (em *EntityMap) close(ctx context.Context) []error {
	em.mu.Lock()
	if em.closed {
		em.mu.Unlock()
		return nil
	}
	em.closed = true
	order := append([]string(nil), em.order...)
	em.mu.Unlock()

	var errs []error
	for idx := len(order) - 1; idx >= 0; idx-- {
		id := order[idx]
		em.mu.RLock()
		e := em.entities[id]
		em.mu.RUnlock()

		if err := e.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s entity %q: %v", e.kind(), id, err))
		}
	}
	return errs
}
