// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"

	"github.com/ikmak/unified-runner/internal/config"
	"github.com/ikmak/unified-runner/internal/integration/mtest"
	"github.com/ikmak/unified-runner/internal/logger"
	"github.com/sirupsen/logrus"
)

var defaultRunKillAllSessionsValue = true

// Options is the type used to configure a run.
type Options struct {
	// Specifies if killAllSessions should be run after each test completes. Defaults to true. It is never run in Atlas
	// mode regardless of this value.
	RunKillAllSessions *bool

	// Deployment is the cluster under test. Required to run test files.
	Deployment *mtest.Deployment

	// Config holds the skip list, unsupported event types and environment flags. Defaults to config.Default().
	Config *config.Config

	// Logger receives runner log lines. Defaults to a logger that discards everything.
	Logger logrus.FieldLogger

	// Termination stops loop operations when it is done. Defaults to a context that is never cancelled.
	Termination context.Context

	// Metrics records operation counts and durations. May be nil.
	Metrics *Metrics
}

// NewOptions creates an Options instance with default values.
func NewOptions() *Options {
	return &Options{
		RunKillAllSessions: &defaultRunKillAllSessionsValue,
		Config:             config.Default(),
		Logger:             logger.Discard(),
		Termination:        context.Background(),
	}
}

// SetRunKillAllSessions sets the value for RunKillAllSessions.
func (op *Options) SetRunKillAllSessions(killAllSessions bool) *Options {
	op.RunKillAllSessions = &killAllSessions
	return op
}

// SetDeployment sets the value for Deployment.
func (op *Options) SetDeployment(d *mtest.Deployment) *Options {
	op.Deployment = d
	return op
}

// SetConfig sets the value for Config.
func (op *Options) SetConfig(cfg *config.Config) *Options {
	op.Config = cfg
	return op
}

// SetLogger sets the value for Logger.
func (op *Options) SetLogger(l logrus.FieldLogger) *Options {
	op.Logger = l
	return op
}

// SetTermination sets the value for Termination.
func (op *Options) SetTermination(ctx context.Context) *Options {
	op.Termination = ctx
	return op
}

// SetMetrics sets the value for Metrics.
func (op *Options) SetMetrics(m *Metrics) *Options {
	op.Metrics = m
	return op
}

// MergeOptions combines the given *Options into a single *Options in a last one wins fashion.
func MergeOptions(opts ...*Options) *Options {
	op := NewOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.RunKillAllSessions != nil {
			op.RunKillAllSessions = opt.RunKillAllSessions
		}
		if opt.Deployment != nil {
			op.Deployment = opt.Deployment
		}
		if opt.Config != nil {
			op.Config = opt.Config
		}
		if opt.Logger != nil {
			op.Logger = opt.Logger
		}
		if opt.Termination != nil {
			op.Termination = opt.Termination
		}
		if opt.Metrics != nil {
			op.Metrics = opt.Metrics
		}
	}

	return op
}
