// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ikmak/unified-runner/internal/bsonutil"
	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// Phase names used in failure reports.
const (
	phaseInitialData  = "setting up initial data"
	phaseEntities     = "creating entities"
	phaseDistinct     = "sending distinct to each mongos"
	phaseOperations   = "running operations"
	phaseExpectations = "checking expectations"
	phaseOutcome      = "checking outcome"
	phaseAtlasResults = "generating Atlas test results"
	phaseCleanup      = "cleanup"
)

const errNoDeploymentMsg = "a deployment is required to run tests"

// TestFile is a parsed unified test file.
type TestFile struct {
	// Name is the base name of the file the test was loaded from.
	Name string `bson:"-"`

	Description       string                 `bson:"description"`
	SchemaVersion     string                 `bson:"schemaVersion"`
	RunOnRequirements []mtest.RunOnBlock     `bson:"runOnRequirements"`
	CreateEntities    []bson.Raw             `bson:"createEntities"`
	InitialData       []*collectionData      `bson:"initialData"`
	TestCases         []*TestCase            `bson:"tests"`
	YAMLAnchors       bson.RawValue          `bson:"_yamlAnchors"`
	Extra             map[string]interface{} `bson:",inline"`
}

// TestCase holds and runs a unified spec test case.
type TestCase struct {
	Description       string                 `bson:"description"`
	RunOnRequirements []mtest.RunOnBlock     `bson:"runOnRequirements"`
	SkipReason        *string                `bson:"skipReason"`
	Operations        []*operation           `bson:"operations"`
	ExpectedEvents    []*expectedEvents      `bson:"expectEvents"`
	Outcome           []*collectionData      `bson:"outcome"`
	Extra             map[string]interface{} `bson:",inline"`

	file *TestFile
}

// TestResult is the result of running or skipping one test case.
type TestResult struct {
	File       string
	Test       string
	SkipReason string
	Err        error
	Duration   time.Duration
}

// Skipped reports whether the test was not run.
func (r *TestResult) Skipped() bool {
	return r.SkipReason != ""
}

// Outcome returns "passed", "failed" or "skipped".
func (r *TestResult) Outcome() string {
	switch {
	case r.Skipped():
		return outcomeSkipped
	case r.Err != nil:
		return outcomeFailed
	default:
		return outcomePassed
	}
}

// LoadTestFile reads and parses the test file at path. Files ending in .yml or .yaml are parsed as YAML, everything
// else as extended JSON.
func LoadTestFile(path string) (*TestFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading file %q", path)
	}
	return ParseTestFile(filepath.Base(path), content)
}

// ParseTestFile parses the content of a test file. name is used to pick the format and is stored as TestFile.Name.
func ParseTestFile(name string, content []byte) (*TestFile, error) {
	doc, err := bsonutil.ParseTestDocument(name, content)
	if err != nil {
		return nil, err
	}

	var tf TestFile
	if err := bson.Unmarshal(doc, &tf); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling test file %q", name)
	}
	tf.Name = name
	if err := tf.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid test file %q", name)
	}
	return &tf, nil
}

func (tf *TestFile) validate() error {
	if len(tf.Extra) > 0 {
		return fmt.Errorf("unrecognized top-level fields: %v", mapKeys(tf.Extra))
	}
	if tf.SchemaVersion == "" {
		return newMissingArgumentError("schemaVersion")
	}
	for _, data := range tf.InitialData {
		if err := data.validate(); err != nil {
			return errors.Wrap(err, "invalid initialData")
		}
	}
	for _, tc := range tf.TestCases {
		if len(tc.Extra) > 0 {
			return fmt.Errorf("unrecognized fields for test %q: %v", tc.Description, mapKeys(tc.Extra))
		}
		for _, data := range tc.Outcome {
			if err := data.validate(); err != nil {
				return errors.Wrapf(err, "invalid outcome for test %q", tc.Description)
			}
		}
		tc.file = tf
	}
	return nil
}

// RunTestFile runs every test case in tf in order. The returned error is non-nil only if the file cannot be run at
// all, for example because its schema version is not supported. Failures of individual tests are reported in the
// results.
func RunTestFile(ctx context.Context, tf *TestFile, opts *Options) ([]*TestResult, error) {
	opts = MergeOptions(opts)
	if err := checkSchemaVersion(tf.SchemaVersion); err != nil {
		return nil, err
	}
	if opts.Deployment == nil {
		return nil, errors.New(errNoDeploymentMsg)
	}

	log := opts.Logger.WithField(logger.FieldFile, tf.Description)
	results := make([]*TestResult, 0, len(tf.TestCases))
	for _, tc := range tf.TestCases {
		res := &TestResult{File: tf.Description, Test: tc.Description}
		results = append(results, res)

		testLog := log.WithField(logger.FieldTest, tc.Description)
		if reason, skip := tc.ShouldSkip(opts); skip {
			res.SkipReason = reason
			opts.Metrics.observeTest(outcomeSkipped, 0)
			testLog.Infof("skip: %s", reason)
			continue
		}

		start := time.Now()
		res.Err = tc.Run(ctx, opts)
		res.Duration = time.Since(start)
		if res.Err != nil {
			testLog.WithError(res.Err).Error("test failed")
			continue
		}
		testLog.WithField("duration", res.Duration).Info("test passed")
	}
	return results, nil
}

// ShouldSkip reports whether the test must not be run and why. The skip list is consulted first, then the subtest
// filter, the test's skipReason and finally the file and test runOnRequirements.
func (tc *TestCase) ShouldSkip(opts *Options) (string, bool) {
	opts = MergeOptions(opts)
	fileDesc := ""
	if tc.file != nil {
		fileDesc = tc.file.Description
	}

	if reason, skip := opts.Config.SkipReason(fileDesc, tc.Description); skip {
		return reason, true
	}
	if filter := opts.Config.Subtest; filter != "" && !strings.Contains(tc.Description, filter) {
		return fmt.Sprintf("test description does not contain subtest filter %q", filter), true
	}
	if tc.SkipReason != nil {
		return *tc.SkipReason, true
	}
	if opts.Deployment == nil {
		return "", false
	}
	if tc.file != nil {
		if reason := opts.Deployment.RunOnRequirementsReason(tc.file.RunOnRequirements); reason != "" {
			return reason, true
		}
	}
	if reason := opts.Deployment.RunOnRequirementsReason(tc.RunOnRequirements); reason != "" {
		return reason, true
	}
	return "", false
}

// Run executes the test case. Callers are expected to check ShouldSkip first. Cleanup always runs and its errors are
// logged, not returned.
func (tc *TestCase) Run(ctx context.Context, opts *Options) (err error) {
	opts = MergeOptions(opts)
	if opts.Deployment == nil {
		return errors.New(errNoDeploymentMsg)
	}
	if tc.file == nil {
		return errors.New("test case is not part of a parsed test file")
	}
	if err := checkSchemaVersion(tc.file.SchemaVersion); err != nil {
		return err
	}

	log := opts.Logger.WithFields(logrus.Fields{
		logger.FieldFile: tc.file.Description,
		logger.FieldTest: tc.Description,
	})
	ts := newTestState(opts, log)
	for _, op := range tc.Operations {
		if op.isFailPointOperation() {
			ts.reduceHeartbeat = true
			break
		}
	}
	ctx = newTestContext(ctx, ts)

	start := time.Now()
	defer func() {
		outcome := outcomePassed
		if err != nil {
			outcome = outcomeFailed
		}
		opts.Metrics.observeTest(outcome, time.Since(start))
	}()
	defer tc.cleanup(ctx)

	return tc.runPhases(ctx)
}

func (tc *TestCase) runPhases(ctx context.Context) error {
	ts := stateOf(ctx)

	err := runPhase(ctx, phaseInitialData, func() error {
		for _, data := range tc.file.InitialData {
			if err := data.createCollection(ctx, ts.deployment.Client()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = runPhase(ctx, phaseEntities, func() error {
		for idx, spec := range tc.file.CreateEntities {
			if err := ts.entities.create(ctx, spec); err != nil {
				return errors.Wrapf(err, "error creating entity at index %d", idx)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ts.deployment.Topology == mtest.Sharded && tc.usesDistinct() {
		if err := runPhase(ctx, phaseDistinct, func() error { return performDistinctWorkaround(ctx) }); err != nil {
			return err
		}
	}

	if err := runPhase(ctx, phaseOperations, func() error { return executeOperations(ctx, tc.Operations) }); err != nil {
		return err
	}

	// Events that arrive from here on, like those for cursors killed during cleanup, must not be compared.
	for _, client := range ts.entities.clients() {
		client.stopListeningForEvents()
	}

	err = runPhase(ctx, phaseExpectations, func() error {
		for _, expected := range tc.ExpectedEvents {
			if err := verifyEvents(ctx, expected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = runPhase(ctx, phaseOutcome, func() error {
		for _, data := range tc.Outcome {
			if err := data.verifyContents(ctx, ts.deployment.Client()); err != nil {
				return errors.Wrapf(err, "error verifying outcome for collection %q", data.namespace())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ts.opts.Config.Atlas {
		return runPhase(ctx, phaseAtlasResults, func() error {
			return writeAtlasResults(ctx, ts.opts.Config.ResultsDir)
		})
	}
	return nil
}

func runPhase(ctx context.Context, name string, fn func() error) error {
	runnerLogger(ctx).WithField(logger.FieldPhase, name).Debug(name + "...")
	if err := fn(); err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}

// usesDistinct reports whether any top-level operation is a distinct.
func (tc *TestCase) usesDistinct() bool {
	for _, op := range tc.Operations {
		if op.Name == "distinct" {
			return true
		}
	}
	return false
}

// cleanup disables fail points, closes every entity and kills sessions left open on the server. It runs with a
// context that is not cancelled when ctx is.
func (tc *TestCase) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	ts := stateOf(ctx)
	log := ts.log.WithField(logger.FieldPhase, phaseCleanup)

	if err := disableFailPoints(ctx); err != nil {
		log.WithError(err).Warn("error disabling fail points")
	}
	for _, err := range ts.entities.close(ctx) {
		log.WithError(err).Warn("error closing entity")
	}

	// Atlas clusters do not allow killAllSessions.
	if ts.opts.Config.Atlas || !*ts.opts.RunKillAllSessions {
		return
	}
	if err := terminateOpenSessions(ctx, ts.deployment); err != nil {
		log.WithError(err).Warn("error terminating open sessions")
	}
}
