// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ikmak/unified-runner/internal/config"
	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/ikmak/unified-runner/internal/integration/unified"
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var errTestsFailed = errors.New("one or more tests failed")

var commonFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "load environment variables from `FILE` before reading configuration",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "read skips and logging settings from the TOML `FILE`",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "override the configured log level",
	},
	&cli.StringFlag{
		Name:  "log-format",
		Usage: "override the configured log format (text or json)",
	},
}

func main() {
	app := &cli.App{
		Name:  "unified-runner",
		Usage: "run unified test format files against a MongoDB deployment",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run every test file found in the given files and directories.",
				ArgsUsage: "PATH...",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-file",
						Usage: "write Prometheus metrics for the run to `FILE`",
					},
					&cli.BoolFlag{
						Name:  "kill-all-sessions",
						Value: true,
						Usage: "run killAllSessions after each test",
					},
				}, commonFlags...),
				Action: runAction,
			},
			{
				Name:      "inspect",
				Usage:     "Parse the given test files and print their structure.",
				ArgsUsage: "PATH...",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "dump every parsed field of each file",
					},
				}, commonFlags...),
				Action: inspectAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.StringSlice("env-file"), c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if format := c.String("log-format"); format != "" {
		cfg.LogFormat = format
	}

	log, err := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("must specify at least one test file or directory")
	}
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	paths, err := collectTestFiles(c.Args().Slice())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deployment, err := mtest.Setup(ctx, mtest.SetupOptions{
		URI:                         cfg.URI,
		SingleMongosLoadBalancerURI: cfg.SingleMongosLBURI,
		MultiMongosLoadBalancerURI:  cfg.MultiMongosLBURI,
		LoadBalanced:                cfg.LoadBalanced,
		AuthEnabled:                 cfg.AuthEnabled,
		Serverless:                  cfg.Serverless,
		Logger:                      log,
	})
	if err != nil {
		return errors.Wrap(err, "error connecting to deployment")
	}
	defer func() {
		if err := deployment.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("error disconnecting from deployment")
		}
	}()

	metrics := unified.NewMetrics()
	opts := unified.NewOptions().
		SetConfig(cfg).
		SetDeployment(deployment).
		SetLogger(log).
		SetMetrics(metrics).
		SetTermination(ctx).
		SetRunKillAllSessions(c.Bool("kill-all-sessions"))

	var passed, failed, skipped int
	start := time.Now()
	for _, path := range paths {
		// A signal ends any running loop operation; the remaining files are not started.
		if ctx.Err() != nil {
			log.Warn("interrupted, not running remaining test files")
			break
		}
		tf, err := unified.LoadTestFile(path)
		if err != nil {
			log.WithError(err).WithField(logger.FieldFile, path).Error("error loading test file")
			failed++
			continue
		}

		results, err := unified.RunTestFile(context.Background(), tf, opts)
		if err != nil {
			log.WithError(err).WithField(logger.FieldFile, path).Error("error running test file")
			failed++
			continue
		}
		for _, res := range results {
			switch {
			case res.Skipped():
				skipped++
			case res.Err != nil:
				failed++
			default:
				passed++
			}
		}
	}

	log.WithFields(logrus.Fields{
		"passed":   passed,
		"failed":   failed,
		"skipped":  skipped,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("run complete")

	if path := c.String("metrics-file"); path != "" {
		if err := writeMetricsFile(path, metrics); err != nil {
			return err
		}
	}
	if failed > 0 {
		return errTestsFailed
	}
	return nil
}

func inspectAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("must specify at least one test file or directory")
	}
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	paths, err := collectTestFiles(c.Args().Slice())
	if err != nil {
		return err
	}

	opts := unified.NewOptions().SetConfig(cfg)
	for _, path := range paths {
		tf, err := unified.LoadTestFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s (schema %s): %s\n", path, tf.SchemaVersion, tf.Description)
		for _, tc := range tf.TestCases {
			status := "run"
			if reason, skip := tc.ShouldSkip(opts); skip {
				status = "skip: " + reason
			}
			fmt.Fprintf(c.App.Writer, "  %s [%d operations] (%s)\n", tc.Description, len(tc.Operations), status)
		}
		if c.Bool("verbose") {
			pretty.Fprintf(c.App.Writer, "%# v\n", tf)
		}
	}
	return nil
}

// collectTestFiles expands directories into the .json, .yml and .yaml files they contain.
func collectTestFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json", ".yml", ".yaml":
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "error walking directory %q", arg)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func writeMetricsFile(path string, m *unified.Metrics) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating metrics file")
	}
	m.WritePrometheus(f)
	return f.Close()
}
