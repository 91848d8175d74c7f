// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mtest

import (
	"strconv"
	"strings"
)

// CompareServerVersions compares two version number strings (i.e. positive integers separated by
// periods). Comparisons are done to the lesser precision of the two versions. For example, 3.2 is
// considered equal to 3.2.11, whereas 3.2.0 is considered less than 3.2.11.
//
// Returns a positive int if version1 is greater than version2, a negative int if version1 is less
// than version2, and 0 if version1 is equal to version2.
func CompareServerVersions(v1 string, v2 string) int {
	n1 := strings.Split(v1, ".")
	n2 := strings.Split(v2, ".")

	for i := 0; i < len(n1) && i < len(n2); i++ {
		i1, err := strconv.Atoi(versionPart(n1[i]))
		if err != nil {
			return 1
		}

		i2, err := strconv.Atoi(versionPart(n2[i]))
		if err != nil {
			return -1
		}

		if difference := i1 - i2; difference != 0 {
			return difference
		}
	}

	return 0
}

// versionPart strips pre-release suffixes such as "-rc0" so "7.0.0-rc0" compares as 7.0.0.
func versionPart(part string) string {
	if idx := strings.IndexAny(part, "-+"); idx >= 0 {
		return part[:idx]
	}
	return part
}
