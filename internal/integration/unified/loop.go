// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// loopArguments are the parsed arguments of a loop operation. Empty IDs are not stored.
type loopArguments struct {
	operations   []*operation
	errorsID     string
	failuresID   string
	successesID  string
	iterationsID string

	// propagate is set when neither errors nor failures are captured by the test. The first error or failure then
	// terminates the loop and fails the test.
	propagate bool
}

func createLoopArguments(args bson.Raw) (*loopArguments, error) {
	la := &loopArguments{}
	var opsFound bool

	elems, err := argumentElements(args)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "operations":
			arr, ok := val.ArrayOK()
			if !ok {
				return nil, fmt.Errorf("expected operations to be an array, got %s", val.Type)
			}
			if la.operations, err = parseOperations(arr); err != nil {
				return nil, err
			}
			opsFound = true
		case "storeErrorsAsEntity":
			la.errorsID, err = entityIDArgument(key, val)
		case "storeFailuresAsEntity":
			la.failuresID, err = entityIDArgument(key, val)
		case "storeSuccessesAsEntity":
			la.successesID, err = entityIDArgument(key, val)
		case "storeIterationsAsEntity":
			la.iterationsID, err = entityIDArgument(key, val)
		default:
			return nil, fmt.Errorf("unrecognized loop option %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	if !opsFound {
		return nil, newMissingArgumentError("operations")
	}

	la.propagate = la.errorsID == "" && la.failuresID == ""
	if la.propagate {
		la.errorsID = "errors"
	}
	// When only one of the two is given, errors and failures share it.
	switch {
	case la.failuresID == "":
		la.failuresID = la.errorsID
	case la.errorsID == "":
		la.errorsID = la.failuresID
	}
	return la, nil
}

// entityIDArgument returns the entity ID named by a loop option.
func entityIDArgument(key string, val bson.RawValue) (string, error) {
	id, ok := val.StringValueOK()
	if !ok {
		return "", fmt.Errorf("expected %s to be a string, got %s", key, val.Type)
	}
	return id, nil
}

// createEntities creates the accumulator entities. Arrays may already exist, counters may not.
func (la *loopArguments) createEntities(em *EntityMap) error {
	for _, id := range []string{la.errorsID, la.failuresID} {
		if err := em.addBSONArrayEntity(id); err != nil {
			return errors.Wrapf(err, "loop entity %s exists but is not of type BSON array", id)
		}
	}
	for _, id := range []string{la.successesID, la.iterationsID} {
		if id == "" {
			continue
		}
		if em.exists(id) {
			return fmt.Errorf("loop entity %s already exists when it should not", id)
		}
		if err := em.addCounterEntity(id); err != nil {
			return err
		}
	}
	return nil
}

// newLoopErrorDocument creates the {error, time} document recorded for a failed iteration. time is the number of
// seconds since the Unix epoch.
func newLoopErrorDocument(err error) bson.Raw {
	return bson.Raw(bsoncore.NewDocumentBuilder().
		AppendString("error", err.Error()).
		AppendDouble("time", getSecondsSinceEpoch()).
		Build())
}

// loopTerminated reports whether the loop should stop before starting another iteration.
func loopTerminated(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	term := runnerOptions(ctx).Termination
	return term != nil && term.Err() != nil
}

// executeLoop repeatedly runs a list of operations until the termination context is done. Errors and failures are
// recorded as documents in BSON array entities. If the test captures neither, the first one stops the loop and is
// returned.
func executeLoop(ctx context.Context, op *operation) error {
	ts := stateOf(ctx)
	if ts.loopSeen {
		return errors.New("test should not contain more than one loop operation")
	}
	ts.loopSeen = true

	args, err := createLoopArguments(op.Arguments)
	if err != nil {
		return err
	}
	em := entities(ctx)
	if err := args.createEntities(em); err != nil {
		return err
	}

	log := runnerLogger(ctx)
	log.Debug("running loop operations...")

	var durations stats.Float64Data
	var propagated error
	for propagated == nil && !loopTerminated(ctx) {
		start := time.Now()
		var bookkeepingErr error
		if args.iterationsID != "" {
			bookkeepingErr = em.incrementCounter(args.iterationsID)
		}

		for _, subOp := range args.operations {
			err := subOp.execute(ctx)
			if err == nil {
				if args.successesID != "" && bookkeepingErr == nil {
					bookkeepingErr = em.incrementCounter(args.successesID)
				}
				continue
			}

			if appendErr := em.appendBSONArrayEntity(args.failuresID, newLoopErrorDocument(err)); appendErr != nil {
				bookkeepingErr = appendErr
			}
			if args.propagate {
				propagated = err
			}
			// The remaining operations of the iteration are skipped.
			break
		}

		if bookkeepingErr != nil {
			if err := em.appendBSONArrayEntity(args.errorsID, newLoopErrorDocument(bookkeepingErr)); err != nil {
				// Errors cannot be recorded, so there is no point in continuing.
				return errors.Wrap(err, "error storing loop error")
			}
			if args.propagate && propagated == nil {
				propagated = bookkeepingErr
			}
		}
		durations = append(durations, float64(time.Since(start))/float64(time.Millisecond))
	}

	logLoopSummary(ctx, durations)
	if propagated != nil {
		return errors.Wrap(propagated, "loop operation failed")
	}
	return nil
}

// logLoopSummary logs the number of iterations and their median, min and max durations in milliseconds.
func logLoopSummary(ctx context.Context, durations stats.Float64Data) {
	log := runnerLogger(ctx).WithField("iterations", len(durations))
	if len(durations) == 0 {
		log.Debug("running loop operations... done.")
		return
	}

	median, _ := stats.Median(durations)
	min, _ := durations.Min()
	max, _ := durations.Max()
	log.WithFields(logrus.Fields{
		"median_ms": median,
		"min_ms":    min,
		"max_ms":    max,
	}).Debug("running loop operations... done.")
}
