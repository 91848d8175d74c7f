// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/tag"
)

// This file defines helper types to convert BSON documents to ReadConcern, WriteConcern, and ReadPref objects.

type readConcern struct {
	Level string `bson:"level"`
}

func (rc *readConcern) toReadConcernOption() *readconcern.ReadConcern {
	return &readconcern.ReadConcern{Level: rc.Level}
}

type writeConcern struct {
	Journal    *bool       `bson:"journal"`
	W          interface{} `bson:"w"`
	WTimeoutMS *int64      `bson:"wtimeoutMS"`
}

func (wc *writeConcern) toWriteConcernOption() (*writeconcern.WriteConcern, error) {
	c := &writeconcern.WriteConcern{Journal: wc.Journal}

	switch w := wc.W.(type) {
	case nil:
	case int32:
		c.W = int(w)
	case int64:
		c.W = int(w)
	case string:
		c.W = w
	default:
		return nil, fmt.Errorf("invalid type for write concern 'w' field %T", wc.W)
	}
	if wc.WTimeoutMS != nil {
		c.WTimeout = time.Duration(*wc.WTimeoutMS) * time.Millisecond
	}
	return c, nil
}

// ReadPreference specifies the mode, tag sets, max staleness and hedging of a read preference document.
type ReadPreference struct {
	Mode                string              `bson:"mode"`
	TagSets             []map[string]string `bson:"tagSets"`
	MaxStalenessSeconds *int64              `bson:"maxStalenessSeconds"`
	Hedge               *struct {
		Enabled *bool `bson:"enabled"`
	} `bson:"hedge"`
}

// ToReadPrefOption converts a ReadPreference into a readpref.ReadPref object and will error if the original
// ReadPreference is malformed.
func (rp *ReadPreference) ToReadPrefOption() (*readpref.ReadPref, error) {
	mode, err := readpref.ModeFromString(rp.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid read preference mode %q", rp.Mode)
	}

	var rpOptions []readpref.Option
	if rp.TagSets != nil {
		sets := make([]tag.Set, 0, len(rp.TagSets))
		for _, rawSet := range rp.TagSets {
			sets = append(sets, tag.NewTagSetFromMap(rawSet))
		}
		rpOptions = append(rpOptions, readpref.WithTagSets(sets...))
	}
	if rp.MaxStalenessSeconds != nil {
		maxStaleness := time.Duration(*rp.MaxStalenessSeconds) * time.Second
		rpOptions = append(rpOptions, readpref.WithMaxStaleness(maxStaleness))
	}
	if rp.Hedge != nil && rp.Hedge.Enabled != nil {
		rpOptions = append(rpOptions, readpref.WithHedgeEnabled(*rp.Hedge.Enabled))
	}

	return readpref.New(mode, rpOptions...)
}

// mapKeys returns the sorted keys of m so unrecognized fields are reported in a stable order.
func mapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
