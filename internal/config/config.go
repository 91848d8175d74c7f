// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package config loads runner configuration from the environment, optional .env files and an optional TOML file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Environment variables read by Load.
const (
	EnvURI              = "MONGODB_URI"
	EnvSingleMongosLB   = "SINGLE_MONGOS_LB_URI"
	EnvMultiMongosLB    = "MULTI_MONGOS_LB_URI"
	EnvAtlas            = "MONGOC_TEST_ATLAS"
	EnvSubtest          = "MONGOC_JSON_SUBTEST"
	EnvServerless       = "MONGOC_TEST_SERVERLESS"
	EnvLoadBalanced     = "MONGOC_TEST_LOADBALANCED"
	EnvAuth             = "AUTH"
	EnvResultsDir       = "UNIFIED_RESULTS_DIR"
	EnvLogLevel         = "UNIFIED_LOG_LEVEL"
	EnvLogFormat        = "UNIFIED_LOG_FORMAT"
	defaultURI          = "mongodb://localhost:27017"
	defaultResultsDir   = "."
	defaultLogLevel     = "info"
	defaultLogFormatStr = "text"
)

// Skip names a test that the runner must not execute. An empty Test skips every test in the file.
type Skip struct {
	File   string `toml:"file"`
	Test   string `toml:"test"`
	Reason string `toml:"reason"`
}

// Config holds everything the runner needs to know about its environment.
type Config struct {
	URI                   string
	SingleMongosLBURI     string
	MultiMongosLBURI      string
	Atlas                 bool
	Subtest               string
	Serverless            bool
	LoadBalanced          bool
	AuthEnabled           bool
	ResultsDir            string
	LogLevel              string
	LogFormat             string
	Skips                 []Skip
	UnsupportedEventTypes []string
}

// fileConfig is the shape of the optional TOML file.
type fileConfig struct {
	LogLevel              string   `toml:"log_level"`
	LogFormat             string   `toml:"log_format"`
	ResultsDir            string   `toml:"results_dir"`
	Skip                  []Skip   `toml:"skip"`
	UnsupportedEventTypes []string `toml:"unsupported_event_types"`
	// ReplaceSkips drops the built-in skip list instead of extending it.
	ReplaceSkips bool `toml:"replace_skips"`
}

// Default returns a configuration with built-in values and no environment applied.
func Default() *Config {
	return &Config{
		URI:                   defaultURI,
		ResultsDir:            defaultResultsDir,
		LogLevel:              defaultLogLevel,
		LogFormat:             defaultLogFormatStr,
		Skips:                 append([]Skip(nil), DefaultSkips...),
		UnsupportedEventTypes: append([]string(nil), DefaultUnsupportedEventTypes...),
	}
}

// Load builds a Config. Each env file is loaded with godotenv without overriding variables that are already set. If
// tomlPath is non-empty, the TOML file is merged over the defaults before the environment is applied.
func Load(envFiles []string, tomlPath string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			return nil, errors.Wrapf(err, "error loading env file %q", file)
		}
	}

	cfg := Default()
	if tomlPath != "" {
		data, err := os.ReadFile(tomlPath)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading config file %q", tomlPath)
		}
		if err := cfg.mergeTOML(data); err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %q", tomlPath)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ReplaceSkips {
		c.Skips = nil
	}
	for idx, skip := range fc.Skip {
		if skip.File == "" {
			return errors.Errorf("skip entry %d has no file description", idx)
		}
		c.Skips = append(c.Skips, skip)
	}
	if fc.UnsupportedEventTypes != nil {
		c.UnsupportedEventTypes = fc.UnsupportedEventTypes
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}
	if fc.ResultsDir != "" {
		c.ResultsDir = fc.ResultsDir
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, target *string) {
		if val, ok := lookup(name); ok && val != "" {
			*target = val
		}
	}
	boolean := func(name string, target *bool) error {
		val, ok := lookup(name)
		if !ok || val == "" {
			return nil
		}
		parsed, err := parseBool(val)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", name)
		}
		*target = parsed
		return nil
	}

	str(EnvURI, &c.URI)
	str(EnvSingleMongosLB, &c.SingleMongosLBURI)
	str(EnvMultiMongosLB, &c.MultiMongosLBURI)
	str(EnvSubtest, &c.Subtest)
	str(EnvResultsDir, &c.ResultsDir)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)
	if val, ok := lookup(EnvAuth); ok {
		c.AuthEnabled = val == "auth"
	}

	for name, target := range map[string]*bool{
		EnvAtlas:        &c.Atlas,
		EnvServerless:   &c.Serverless,
		EnvLoadBalanced: &c.LoadBalanced,
	} {
		if err := boolean(name, target); err != nil {
			return err
		}
	}
	return nil
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(val)
}

// SkipReason reports whether the test with the given file and test descriptions is on the skip list. Pass an empty
// test description to ask whether the whole file is skipped.
func (c *Config) SkipReason(file, test string) (string, bool) {
	for _, skip := range c.Skips {
		if skip.File != file {
			continue
		}
		if skip.Test == "" || (test != "" && skip.Test == test) {
			reason := skip.Reason
			if reason == "" {
				reason = "test is on the skip list"
			}
			return reason, true
		}
	}
	return "", false
}

// IsUnsupportedEventType reports whether name is a known event type that the runner does not observe. The comparison
// is case-insensitive.
func (c *Config) IsUnsupportedEventType(name string) bool {
	for _, unsupported := range c.UnsupportedEventTypes {
		if strings.EqualFold(unsupported, name) {
			return true
		}
	}
	return false
}
