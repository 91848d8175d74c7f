// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

func newDatabaseEntity(em *EntityMap, doc bson.Raw) (*databaseEntity, error) {
	var temp struct {
		ID           string                 `bson:"id"`
		Client       string                 `bson:"client"`
		DatabaseName string                 `bson:"databaseName"`
		Options      *dbOrCollectionOptions `bson:"databaseOptions"`
		Extra        map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(doc, &temp); err != nil {
		return nil, errors.Wrap(err, "error parsing database entity")
	}
	if len(temp.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'database.%s'", mapKeys(temp.Extra)[0])
	}
	if temp.DatabaseName == "" {
		return nil, errors.New("database entity is missing required field \"databaseName\"")
	}

	client, err := em.client(temp.Client)
	if err != nil {
		return nil, err
	}

	db := client.Database(temp.DatabaseName)
	if temp.Options != nil {
		db = client.Database(temp.DatabaseName, temp.Options.DBOptions)
	}
	return &databaseEntity{db}, nil
}

func newCollectionEntity(em *EntityMap, doc bson.Raw) (*collectionEntity, error) {
	var temp struct {
		ID             string                 `bson:"id"`
		Database       string                 `bson:"database"`
		CollectionName string                 `bson:"collectionName"`
		Options        *dbOrCollectionOptions `bson:"collectionOptions"`
		Extra          map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(doc, &temp); err != nil {
		return nil, errors.Wrap(err, "error parsing collection entity")
	}
	if len(temp.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'collection.%s'", mapKeys(temp.Extra)[0])
	}
	if temp.CollectionName == "" {
		return nil, errors.New("collection entity is missing required field \"collectionName\"")
	}

	db, err := em.database(temp.Database)
	if err != nil {
		return nil, err
	}

	coll := db.Collection(temp.CollectionName)
	if temp.Options != nil {
		coll = db.Collection(temp.CollectionName, temp.Options.CollectionOptions)
	}
	return &collectionEntity{coll}, nil
}

func newSessionEntity(em *EntityMap, doc bson.Raw) (*sessionEntity, error) {
	var temp struct {
		ID      string                 `bson:"id"`
		Client  string                 `bson:"client"`
		Options *sessionOptions        `bson:"sessionOptions"`
		Extra   map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(doc, &temp); err != nil {
		return nil, errors.Wrap(err, "error parsing session entity")
	}
	if len(temp.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'session.%s'", mapKeys(temp.Extra)[0])
	}

	client, err := em.client(temp.Client)
	if err != nil {
		return nil, err
	}

	se := &sessionEntity{clientID: temp.Client}
	if temp.Options != nil {
		se.sess, err = client.StartSession(temp.Options.SessionOptions)
	} else {
		se.sess, err = client.StartSession()
	}
	if err != nil {
		return nil, errors.Wrap(err, "error starting session")
	}

	// Copy the lsid so it stays valid after the session is ended and returned to the pool.
	se.lsid = append(bson.Raw(nil), se.sess.ID()...)
	return se, nil
}

func newBucketEntity(em *EntityMap, doc bson.Raw) (*bucketEntity, error) {
	var temp struct {
		ID       string                 `bson:"id"`
		Database string                 `bson:"database"`
		Options  *gridFSBucketOptions   `bson:"bucketOptions"`
		Extra    map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(doc, &temp); err != nil {
		return nil, errors.Wrap(err, "error parsing bucket entity")
	}
	if len(temp.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'bucket.%s'", mapKeys(temp.Extra)[0])
	}

	db, err := em.database(temp.Database)
	if err != nil {
		return nil, err
	}

	var bucket *gridfs.Bucket
	if temp.Options != nil {
		bucket, err = gridfs.NewBucket(db, temp.Options.BucketOptions)
	} else {
		bucket, err = gridfs.NewBucket(db)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error creating GridFS bucket")
	}
	return &bucketEntity{bucket}, nil
}
