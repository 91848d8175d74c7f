// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// concernOptions holds the readConcern, readPreference and writeConcern fields shared by database, collection and
// bucket options. Any field may be nil.
type concernOptions struct {
	rc *readconcern.ReadConcern
	rp *readpref.ReadPref
	wc *writeconcern.WriteConcern
}

func newConcernOptions(rc *readConcern, rp *ReadPreference, wc *writeConcern) (concernOptions, error) {
	var co concernOptions
	if rc != nil {
		co.rc = rc.toReadConcernOption()
	}
	if rp != nil {
		converted, err := rp.ToReadPrefOption()
		if err != nil {
			return co, fmt.Errorf("error parsing read preference document: %v", err)
		}
		co.rp = converted
	}
	if wc != nil {
		converted, err := wc.toWriteConcernOption()
		if err != nil {
			return co, fmt.Errorf("error parsing write concern document: %v", err)
		}
		co.wc = converted
	}
	return co, nil
}

type dbOrCollectionOptions struct {
	DBOptions         *options.DatabaseOptions
	CollectionOptions *options.CollectionOptions
}

var _ bson.Unmarshaler = (*dbOrCollectionOptions)(nil)

// UnmarshalBSON specifies custom BSON unmarshalling behavior to convert db/collection options from BSON/JSON documents
// to their corresponding Go objects.
func (d *dbOrCollectionOptions) UnmarshalBSON(data []byte) error {
	var temp struct {
		RC    *readConcern           `bson:"readConcern"`
		RP    *ReadPreference        `bson:"readPreference"`
		WC    *writeConcern          `bson:"writeConcern"`
		Extra map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary dbOrCollectionOptions object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for dbOrCollectionOptions: %v", mapKeys(temp.Extra))
	}

	co, err := newConcernOptions(temp.RC, temp.RP, temp.WC)
	if err != nil {
		return err
	}

	d.DBOptions = options.Database()
	d.CollectionOptions = options.Collection()
	if co.rc != nil {
		d.DBOptions.SetReadConcern(co.rc)
		d.CollectionOptions.SetReadConcern(co.rc)
	}
	if co.rp != nil {
		d.DBOptions.SetReadPreference(co.rp)
		d.CollectionOptions.SetReadPreference(co.rp)
	}
	if co.wc != nil {
		d.DBOptions.SetWriteConcern(co.wc)
		d.CollectionOptions.SetWriteConcern(co.wc)
	}
	return nil
}

// gridFSBucketOptions is a wrapper for *options.BucketOptions.
type gridFSBucketOptions struct {
	*options.BucketOptions
}

var _ bson.Unmarshaler = (*gridFSBucketOptions)(nil)

func (bo *gridFSBucketOptions) UnmarshalBSON(data []byte) error {
	var temp struct {
		Name      *string                `bson:"bucketName"`
		ChunkSize *int32                 `bson:"chunkSizeBytes"`
		RC        *readConcern           `bson:"readConcern"`
		RP        *ReadPreference        `bson:"readPreference"`
		WC        *writeConcern          `bson:"writeConcern"`
		Extra     map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary gridFSBucketOptions object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for gridFSBucketOptions: %v", mapKeys(temp.Extra))
	}

	co, err := newConcernOptions(temp.RC, temp.RP, temp.WC)
	if err != nil {
		return err
	}

	bo.BucketOptions = options.GridFSBucket()
	if temp.Name != nil {
		bo.SetName(*temp.Name)
	}
	if temp.ChunkSize != nil {
		bo.SetChunkSizeBytes(*temp.ChunkSize)
	}
	if co.rc != nil {
		bo.SetReadConcern(co.rc)
	}
	if co.rp != nil {
		bo.SetReadPreference(co.rp)
	}
	if co.wc != nil {
		bo.SetWriteConcern(co.wc)
	}
	return nil
}
