// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	// supportedSchemaVersions lists the schema versions supported by the runner. 1.12 and 1.18 are only partially
	// supported: errorResponse assertions and extra kmsProviders properties are not implemented.
	supportedSchemaVersions = []string{
		"1.8",
		"1.12",
		"1.18",
	}
)

type unsupportedSchemaVersionError struct {
	version string
}

func (e *unsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("unsupported schema version %q; supported versions: %v", e.version, supportedSchemaVersions)
}

type schemaVersion struct {
	major, minor int
}

// parseSchemaVersion parses "major[.minor[.patch]]". The patch component is ignored.
func parseSchemaVersion(str string) (schemaVersion, error) {
	parts := strings.Split(str, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return schemaVersion{}, fmt.Errorf("invalid schema version %q", str)
	}

	var sv schemaVersion
	var err error
	if sv.major, err = strconv.Atoi(parts[0]); err != nil {
		return schemaVersion{}, fmt.Errorf("invalid major version in schema version %q: %v", str, err)
	}
	if len(parts) > 1 {
		if sv.minor, err = strconv.Atoi(parts[1]); err != nil {
			return schemaVersion{}, fmt.Errorf("invalid minor version in schema version %q: %v", str, err)
		}
	}
	return sv, nil
}

// checkSchemaVersion returns an error if no supported version has the same major component and a minor component
// at least that of version.
func checkSchemaVersion(version string) error {
	sv, err := parseSchemaVersion(version)
	if err != nil {
		return err
	}

	for _, supported := range supportedSchemaVersions {
		ssv, err := parseSchemaVersion(supported)
		if err != nil {
			return err
		}
		if ssv.major == sv.major && ssv.minor >= sv.minor {
			return nil
		}
	}
	return &unsupportedSchemaVersionError{version: version}
}
