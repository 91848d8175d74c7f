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

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// collectionData is one entry of initialData or outcome.
type collectionData struct {
	DatabaseName   string                 `bson:"databaseName"`
	CollectionName string                 `bson:"collectionName"`
	Documents      []bson.Raw             `bson:"documents"`
	Extra          map[string]interface{} `bson:",inline"`
}

func (c *collectionData) namespace() string {
	return c.DatabaseName + "." + c.CollectionName
}

func (c *collectionData) validate() error {
	if len(c.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for collection data %q: %v", c.namespace(), mapKeys(c.Extra))
	}
	if c.DatabaseName == "" || c.CollectionName == "" {
		return errors.New("collection data requires databaseName and collectionName")
	}
	if c.Documents == nil {
		return fmt.Errorf("collection data for %q requires documents", c.namespace())
	}
	return nil
}

// createCollection drops the collection and seeds it with the documents. If there are no documents, the collection
// is created explicitly so it exists for the test. All writes use majority write concern.
func (c *collectionData) createCollection(ctx context.Context, client *mongo.Client) error {
	if err := c.validate(); err != nil {
		return err
	}

	db := client.Database(c.DatabaseName, options.Database().SetWriteConcern(writeconcern.Majority()))
	coll := db.Collection(c.CollectionName)
	if err := coll.Drop(ctx); err != nil && !isNamespaceNotFound(err) {
		return errors.Wrapf(err, "error dropping collection %q", c.namespace())
	}

	if len(c.Documents) == 0 {
		if err := db.CreateCollection(ctx, c.CollectionName); err != nil {
			return errors.Wrapf(err, "error creating collection %q", c.namespace())
		}
		return nil
	}

	docs := bsonutil.RawToInterfaces(c.Documents...)
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return errors.Wrapf(err, "error inserting data into collection %q", c.namespace())
	}
	return nil
}

// verifyContents checks that the collection holds exactly the expected documents in _id order. Documents are compared
// with their keys sorted and values compared byte for byte.
func (c *collectionData) verifyContents(ctx context.Context, client *mongo.Client) error {
	if err := c.validate(); err != nil {
		return err
	}

	collOpts := options.Collection().
		SetReadPreference(readpref.Primary()).
		SetReadConcern(readconcern.Local())
	coll := client.Database(c.DatabaseName).Collection(c.CollectionName, collOpts)

	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{"_id", 1}}))
	if err != nil {
		return errors.Wrapf(err, "Find error for collection %q", c.namespace())
	}
	defer cursor.Close(ctx)

	var actual []bson.Raw
	for cursor.Next(ctx) {
		actual = append(actual, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return errors.Wrapf(err, "cursor iteration error for collection %q", c.namespace())
	}
	return c.compareContents(actual)
}

// compareContents checks actual, the collection's documents in _id order, against the expected documents.
func (c *collectionData) compareContents(actual []bson.Raw) error {
	if len(actual) != len(c.Documents) {
		return fmt.Errorf("expected collection %s to contain: %s\nbut got: %s", c.CollectionName,
			bsonutil.ArrayExtJSON(bsonutil.DocumentsToArray(c.Documents)),
			bsonutil.ArrayExtJSON(bsonutil.DocumentsToArray(actual)))
	}

	for idx, expected := range c.Documents {
		expectedSorted, err := bsonutil.SortedCopy(expected)
		if err != nil {
			return errors.Wrapf(err, "error sorting expected document at index %d", idx)
		}
		actualSorted, err := bsonutil.SortedCopy(actual[idx])
		if err != nil {
			return errors.Wrapf(err, "error sorting actual document at index %d", idx)
		}
		if !bytes.Equal(expectedSorted, actualSorted) {
			return fmt.Errorf("expected %s, but got %s", bsonutil.ExtJSON(expectedSorted),
				bsonutil.ExtJSON(actualSorted))
		}
	}
	return nil
}
