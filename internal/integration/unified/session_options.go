// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// transactionOptions is a wrapper for *options.TransactionOptions. This type implements the bson.Unmarshaler interface
// to convert BSON documents to a transactionOptions instance.
type transactionOptions struct {
	*options.TransactionOptions
}

var _ bson.Unmarshaler = (*transactionOptions)(nil)

func (to *transactionOptions) UnmarshalBSON(data []byte) error {
	var temp struct {
		RC              *readConcern           `bson:"readConcern"`
		RP              *ReadPreference        `bson:"readPreference"`
		WC              *writeConcern          `bson:"writeConcern"`
		MaxCommitTimeMS *int64                 `bson:"maxCommitTimeMS"`
		Extra           map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary transactionOptions object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for transactionOptions: %v", mapKeys(temp.Extra))
	}

	co, err := newConcernOptions(temp.RC, temp.RP, temp.WC)
	if err != nil {
		return err
	}

	to.TransactionOptions = options.Transaction()
	if co.rc != nil {
		to.SetReadConcern(co.rc)
	}
	if co.rp != nil {
		to.SetReadPreference(co.rp)
	}
	if co.wc != nil {
		to.SetWriteConcern(co.wc)
	}
	if temp.MaxCommitTimeMS != nil {
		mct := time.Duration(*temp.MaxCommitTimeMS) * time.Millisecond
		to.SetMaxCommitTime(&mct)
	}
	return nil
}

// sessionOptions is a wrapper for *options.SessionOptions. This type implements the bson.Unmarshaler interface to
// convert BSON documents to a sessionOptions instance.
type sessionOptions struct {
	*options.SessionOptions
}

var _ bson.Unmarshaler = (*sessionOptions)(nil)

func (so *sessionOptions) UnmarshalBSON(data []byte) error {
	var temp struct {
		Causal     *bool                  `bson:"causalConsistency"`
		TxnOptions *transactionOptions    `bson:"defaultTransactionOptions"`
		Snapshot   *bool                  `bson:"snapshot"`
		Extra      map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary sessionOptions object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for sessionOptions: %v", mapKeys(temp.Extra))
	}

	so.SessionOptions = options.Session()
	if temp.Causal != nil {
		so.SetCausalConsistency(*temp.Causal)
	}
	if temp.Snapshot != nil {
		so.SetSnapshot(*temp.Snapshot)
	}
	if txn := temp.TxnOptions; txn != nil && txn.TransactionOptions != nil {
		if rc := txn.ReadConcern; rc != nil {
			so.SetDefaultReadConcern(rc)
		}
		if rp := txn.ReadPreference; rp != nil {
			so.SetDefaultReadPreference(rp)
		}
		if wc := txn.WriteConcern; wc != nil {
			so.SetDefaultWriteConcern(wc)
		}
		if mct := txn.MaxCommitTime; mct != nil {
			so.SetDefaultMaxCommitTime(mct)
		}
	}
	return nil
}

// serverAPIOptions is a wrapper for *options.ServerAPIOptions.
type serverAPIOptions struct {
	*options.ServerAPIOptions
}

var _ bson.Unmarshaler = (*serverAPIOptions)(nil)

func (sa *serverAPIOptions) UnmarshalBSON(data []byte) error {
	var temp struct {
		Version           *string                `bson:"version"`
		Strict            *bool                  `bson:"strict"`
		DeprecationErrors *bool                  `bson:"deprecationErrors"`
		Extra             map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("error unmarshalling to temporary serverAPIOptions object: %v", err)
	}
	if len(temp.Extra) > 0 {
		return fmt.Errorf("unrecognized fields for serverAPIOptions: %v", mapKeys(temp.Extra))
	}
	if temp.Version == nil {
		return fmt.Errorf("serverApi document is missing required field %q", "version")
	}

	version := options.ServerAPIVersion(*temp.Version)
	if err := version.Validate(); err != nil {
		return err
	}

	sa.ServerAPIOptions = options.ServerAPI(version)
	if temp.Strict != nil {
		sa.SetStrict(*temp.Strict)
	}
	if temp.DeprecationErrors != nil {
		sa.SetDeprecationErrors(*temp.DeprecationErrors)
	}
	return nil
}
