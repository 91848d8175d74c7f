// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSchemaVersion(t *testing.T) {
	testCases := []struct {
		version   string
		supported bool
	}{
		{"1.0", true},
		{"1.8", true},
		{"1.12", true},
		{"1.17", true},
		{"1.18", true},
		{"1.18.2", true},
		{"1", true},
		{"1.19", false},
		{"2.0", false},
		{"0.1", false},
	}
	for _, tc := range testCases {
		t.Run(tc.version, func(t *testing.T) {
			err := checkSchemaVersion(tc.version)
			if tc.supported {
				assert.NoError(t, err)
				return
			}

			var unsupported *unsupportedSchemaVersionError
			assert.True(t, errors.As(err, &unsupported), "expected unsupportedSchemaVersionError, got %v", err)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		for _, version := range []string{"", "a.b", "1.x", "1.2.3.4"} {
			err := checkSchemaVersion(version)
			assert.Error(t, err, "expected error for version %q", version)

			var unsupported *unsupportedSchemaVersionError
			assert.False(t, errors.As(err, &unsupported), "expected parse error for version %q", version)
		}
	})
}
