// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const (
	atlasEventsFile  = "events.json"
	atlasResultsFile = "results.json"
)

// atlasResults builds the events.json and results.json documents from the loop entities. Missing entities are
// reported as empty arrays and zero counts.
func atlasResults(em *EntityMap) (events bson.Raw, results bson.Raw) {
	arrays := map[string][]bson.Raw{}
	for _, id := range []string{"events", "failures", "errors"} {
		arrays[id], _ = em.BSONArray(id)
	}
	count := func(id string) int64 {
		n, _ := em.Counter(id)
		return n
	}

	events = bson.Raw(bsoncore.NewDocumentBuilder().
		AppendArray("events", bsonutil.DocumentsToArray(arrays["events"])).
		AppendArray("failures", bsonutil.DocumentsToArray(arrays["failures"])).
		AppendArray("errors", bsonutil.DocumentsToArray(arrays["errors"])).
		Build())
	results = bson.Raw(bsoncore.NewDocumentBuilder().
		AppendInt64("numErrors", int64(len(arrays["errors"]))).
		AppendInt64("numFailures", int64(len(arrays["failures"]))).
		AppendInt64("numIterations", count("iterations")).
		AppendInt64("numSuccesses", count("successes")).
		Build())
	return events, results
}

// writeAtlasResults writes events.json and results.json to dir.
func writeAtlasResults(ctx context.Context, dir string) error {
	runnerLogger(ctx).Debug("generating events.json and results.json files...")

	events, results := atlasResults(entities(ctx))
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "error creating results directory %q", dir)
	}
	for name, doc := range map[string]bson.Raw{atlasEventsFile: events, atlasResultsFile: results} {
		if err := os.WriteFile(filepath.Join(dir, name), bsonutil.PrettyExtJSON(doc), 0o600); err != nil {
			return errors.Wrapf(err, "error writing %s", name)
		}
	}

	runnerLogger(ctx).Debug("generating events.json and results.json files... done.")
	return nil
}
