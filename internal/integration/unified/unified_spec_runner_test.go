// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ikmak/unified-runner/internal/config"
	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dataDirectory  = "testdata"
	validPassDir   = "valid-pass"
	validFailDir   = "valid-fail"
	parseDirectory = "parse"
)

func loadTestFile(t *testing.T, elems ...string) *TestFile {
	t.Helper()

	tf, err := LoadTestFile(filepath.Join(append([]string{dataDirectory}, elems...)...))
	require.NoError(t, err, "LoadTestFile error")
	return tf
}

func TestParseTestFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		tf := loadTestFile(t, validPassDir, "insert-and-find.json")

		assert.Equal(t, "insert-and-find.json", tf.Name)
		assert.Equal(t, "insert-and-find", tf.Description)
		assert.Equal(t, "1.8", tf.SchemaVersion)
		assert.Len(t, tf.CreateEntities, 3)
		require.Len(t, tf.InitialData, 1)
		assert.Equal(t, "unified-runner-tests.coll0", tf.InitialData[0].namespace())
		require.Len(t, tf.TestCases, 4)

		tc := tf.TestCases[0]
		assert.Equal(t, "insertOne then find", tc.Description)
		require.Len(t, tc.Operations, 2)
		assert.Equal(t, "insertOne", tc.Operations[0].Name)
		assert.Equal(t, "collection0", tc.Operations[0].Object)
		require.Len(t, tc.ExpectedEvents, 1)
		assert.Len(t, tc.ExpectedEvents[0].Events, 2)
		require.Len(t, tc.Outcome, 1)
		assert.Len(t, tc.Outcome[0].Documents, 2)
		assert.Same(t, tf, tc.file)

		saved := tf.TestCases[2].Operations[0].ResultEntityID
		require.NotNil(t, saved)
		assert.Equal(t, "updated", *saved)
	})
	t.Run("yaml with anchors", func(t *testing.T) {
		tf := loadTestFile(t, parseDirectory, "anchors.yml")

		assert.Equal(t, "1.12", tf.SchemaVersion)
		require.Len(t, tf.RunOnRequirements, 1)
		assert.Equal(t, []mtest.TopologyKind{mtest.ReplicaSet, mtest.Sharded}, tf.RunOnRequirements[0].Topologies)
		require.Len(t, tf.InitialData, 1)
		assert.Equal(t, "unified-runner-tests.coll2", tf.InitialData[0].namespace())

		require.Len(t, tf.TestCases, 1)
		tc := tf.TestCases[0]
		require.NotNil(t, tc.SkipReason)
		assert.Equal(t, "collection0", tc.Operations[0].Object)
		require.Len(t, tc.Outcome, 1)
		assert.NotNil(t, tc.Outcome[0].Documents, "expected empty documents to be present")
		assert.Empty(t, tc.Outcome[0].Documents)
	})

	invalidCases := []struct {
		name    string
		content string
	}{
		{"unknown top-level field", `{"description": "d", "schemaVersion": "1.8", "tests": [], "extra": 1}`},
		{"missing schema version", `{"description": "d", "tests": []}`},
		{"unknown test field", `{"description": "d", "schemaVersion": "1.8", "tests": [{"description": "t", "operations": [], "bogus": 1}]}`},
		{
			"invalid initial data",
			`{"description": "d", "schemaVersion": "1.8", "initialData": [{"databaseName": "db"}], "tests": []}`,
		},
		{
			"invalid outcome",
			`{"description": "d", "schemaVersion": "1.8", "tests": [{"description": "t", "operations": [], "outcome": [{"collectionName": "c"}]}]}`,
		},
		{"not JSON", `description: d`},
	}
	for _, tc := range invalidCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTestFile("invalid.json", []byte(tc.content))
			assert.Error(t, err)
		})
	}
}

func TestShouldSkip(t *testing.T) {
	newTestCase := func(t *testing.T, content string) *TestCase {
		t.Helper()

		tf, err := ParseTestFile("skip.json", []byte(content))
		require.NoError(t, err)
		require.Len(t, tf.TestCases, 1)
		return tf.TestCases[0]
	}
	deployment := mtest.NewDeployment(mtest.Description{Topology: mtest.Single, ServerVersion: "6.0.0"}, nil)
	newOptions := func(cfg *config.Config) *Options {
		return NewOptions().SetConfig(cfg).SetDeployment(deployment)
	}

	t.Run("runs when nothing applies", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "test", "operations": []}]}`)

		reason, skip := tc.ShouldSkip(newOptions(config.Default()))
		assert.False(t, skip, "unexpected skip: %s", reason)
	})
	t.Run("skip list", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "test", "skipReason": "in file", "operations": []}]}`)
		cfg := config.Default()
		cfg.Skips = append(cfg.Skips, config.Skip{File: "file", Test: "test", Reason: "listed"})

		reason, skip := tc.ShouldSkip(newOptions(cfg))
		assert.True(t, skip)
		assert.Equal(t, "listed", reason, "expected skip list to take precedence")
	})
	t.Run("whole file on skip list", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "test", "operations": []}]}`)
		cfg := config.Default()
		cfg.Skips = append(cfg.Skips, config.Skip{File: "file"})

		_, skip := tc.ShouldSkip(newOptions(cfg))
		assert.True(t, skip)
	})
	t.Run("subtest filter", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "insertOne test", "skipReason": "in file", "operations": []}]}`)
		cfg := config.Default()
		cfg.Subtest = "deleteOne"

		reason, skip := tc.ShouldSkip(newOptions(cfg))
		assert.True(t, skip)
		assert.Contains(t, reason, "subtest filter", "expected subtest filter to take precedence over skipReason")

		cfg.Subtest = "insertOne"
		reason, _ = tc.ShouldSkip(newOptions(cfg))
		assert.Equal(t, "in file", reason)
	})
	t.Run("skipReason before runOnRequirements", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "test", "skipReason": "in file",
				"runOnRequirements": [{"minServerVersion": "99.0"}], "operations": []}]}`)

		reason, skip := tc.ShouldSkip(newOptions(config.Default()))
		assert.True(t, skip)
		assert.Equal(t, "in file", reason)
	})
	t.Run("file runOnRequirements", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"runOnRequirements": [{"topologies": ["replicaset"]}],
			"tests": [{"description": "test", "operations": []}]}`)

		reason, skip := tc.ShouldSkip(newOptions(config.Default()))
		assert.True(t, skip)
		assert.Contains(t, reason, "runOnRequirements not satisfied")
	})
	t.Run("test runOnRequirements", func(t *testing.T) {
		tc := newTestCase(t, `{"description": "file", "schemaVersion": "1.8",
			"tests": [{"description": "test", "runOnRequirements": [{"maxServerVersion": "4.4"}, {"minServerVersion": "5.0"}],
				"operations": []}]}`)

		_, skip := tc.ShouldSkip(newOptions(config.Default()))
		assert.False(t, skip, "expected second requirement to be satisfied")
	})
}

func TestRunTestFileErrors(t *testing.T) {
	deployment := mtest.NewDeployment(mtest.Description{Topology: mtest.Single, ServerVersion: "6.0.0"}, nil)

	t.Run("unsupported schema version", func(t *testing.T) {
		tf, err := ParseTestFile("schema.json", []byte(`{"description": "d", "schemaVersion": "2.0", "tests": []}`))
		require.NoError(t, err)

		_, err = RunTestFile(context.Background(), tf, NewOptions().SetDeployment(deployment))
		var unsupported *unsupportedSchemaVersionError
		assert.True(t, errors.As(err, &unsupported), "expected unsupportedSchemaVersionError, got %v", err)
	})
	t.Run("no deployment", func(t *testing.T) {
		tf := loadTestFile(t, validPassDir, "insert-and-find.json")

		_, err := RunTestFile(context.Background(), tf, nil)
		assert.Error(t, err)
	})
	t.Run("skipped tests are reported", func(t *testing.T) {
		tf, err := ParseTestFile("skip.json", []byte(`{"description": "d", "schemaVersion": "1.8",
			"tests": [{"description": "t", "skipReason": "not today", "operations": []}]}`))
		require.NoError(t, err)
		metrics := NewMetrics()

		results, err := RunTestFile(context.Background(), tf, NewOptions().SetDeployment(deployment).SetMetrics(metrics))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Skipped())
		assert.Equal(t, outcomeSkipped, results[0].Outcome())
		assert.Contains(t, writeMetrics(metrics), `unified_tests_total{outcome="skipped"} 1`)
	})
}

func TestTestResultOutcome(t *testing.T) {
	assert.Equal(t, outcomePassed, (&TestResult{}).Outcome())
	assert.Equal(t, outcomeFailed, (&TestResult{Err: errors.New("boom")}).Outcome())
	assert.Equal(t, outcomeSkipped, (&TestResult{SkipReason: "why", Err: errors.New("boom")}).Outcome())
}

// TestUnifiedSpec runs the test files in testdata against the deployment in MONGODB_URI.
func TestUnifiedSpec(t *testing.T) {
	uri := os.Getenv(config.EnvURI)
	if uri == "" {
		t.Skipf("%s is not set", config.EnvURI)
	}

	cfg, err := config.Load(nil, "")
	require.NoError(t, err, "config.Load error")

	log, err := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat))
	require.NoError(t, err, "logger.New error")

	ctx := context.Background()
	deployment, err := mtest.Setup(ctx, mtest.SetupOptions{
		URI:                         cfg.URI,
		SingleMongosLoadBalancerURI: cfg.SingleMongosLBURI,
		MultiMongosLoadBalancerURI:  cfg.MultiMongosLBURI,
		LoadBalanced:                cfg.LoadBalanced,
		AuthEnabled:                 cfg.AuthEnabled,
		Serverless:                  cfg.Serverless,
		Logger:                      log,
	})
	require.NoError(t, err, "mtest.Setup error")
	defer func() { _ = deployment.Disconnect(ctx) }()

	opts := NewOptions().SetDeployment(deployment).SetConfig(cfg).SetLogger(log)
	runTestDirectory(t, filepath.Join(dataDirectory, validPassDir), opts, false)
	runTestDirectory(t, filepath.Join(dataDirectory, validFailDir), opts, true)
}

func runTestDirectory(t *testing.T, dir string, opts *Options, expectFailure bool) {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "error reading directory %q", dir)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		t.Run(entry.Name(), func(t *testing.T) {
			tf, err := LoadTestFile(filepath.Join(dir, entry.Name()))
			require.NoError(t, err, "LoadTestFile error")
			require.NoError(t, checkSchemaVersion(tf.SchemaVersion))

			for _, tc := range tf.TestCases {
				t.Run(tc.Description, func(t *testing.T) {
					if reason, skip := tc.ShouldSkip(opts); skip {
						t.Skip(reason)
					}

					err := tc.Run(context.Background(), opts)
					if expectFailure {
						assert.Error(t, err, "expected test to fail")
						return
					}
					assert.NoError(t, err, "test failed")
				})
			}
		})
	}
}
