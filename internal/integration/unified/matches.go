// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// valueMatcher compares expected values from a test file against actual values. Special operators that refer to
// entities ($$sessionLsid, $$matchesEntity) are resolved through em, which may be nil when no entities exist.
type valueMatcher struct {
	em *EntityMap
}

// verifyValuesMatch compares the provided BSON values and returns an error if they do not match. If the values are
// documents and extraKeysAllowed is true, the actual value will be allowed to have additional keys at the top-level.
// For example, an expected document {x: 1} would match the actual document {x: 1, y: 1}.
func verifyValuesMatch(ctx context.Context, expected, actual bson.RawValue, extraKeysAllowed bool) error {
	return valueMatcher{em: entities(ctx)}.match("", expected, actual, extraKeysAllowed)
}

func (m valueMatcher) match(keyPath string, expected, actual bson.RawValue, extraKeysAllowed bool) error {
	switch {
	case expected.Type == bsontype.EmbeddedDocument:
		expectedDoc := expected.Document()
		// If the document only has one element and the key is a special matching operator, the actual value might not
		// be a document. Evaluate the operator against the actual value instead of comparing element-wise.
		if requiresSpecialMatching(expectedDoc) {
			if err := m.evaluateSpecialComparison(keyPath, expectedDoc, actual); err != nil {
				return newMatchingError(keyPath, "error doing special matching assertion: %v", err)
			}
			return nil
		}
		return m.matchDocument(keyPath, expectedDoc, actual, extraKeysAllowed)
	case expected.Type == bsontype.Array:
		return m.matchArray(keyPath, expected.Array(), actual, extraKeysAllowed)
	case expected.IsNumber():
		return matchNumber(keyPath, expected, actual)
	}

	if !expected.Equal(actual) {
		return newMatchingError(keyPath, "expected value %s, got %s", expected, actual)
	}
	return nil
}

func (m valueMatcher) matchDocument(keyPath string, expectedDoc bson.Raw, actual bson.RawValue,
	extraKeysAllowed bool) error {

	actualDoc, ok := actual.DocumentOK()
	if !ok {
		return newMatchingError(keyPath, "expected value to be a document but got a %s", actual.Type)
	}

	expectedElems, _ := expectedDoc.Elements()
	for _, expectedElem := range expectedElems {
		expectedKey := expectedElem.Key()
		expectedValue := expectedElem.Value()
		fullKeyPath := joinKeyPath(keyPath, expectedKey)

		// The lookup error is checked later because operators like $$exists can assert that the key is absent.
		actualValue, err := actualDoc.LookupErr(expectedKey)
		if specialDoc, ok := expectedValue.DocumentOK(); ok && requiresSpecialMatching(specialDoc) {
			if err := m.evaluateSpecialComparison(fullKeyPath, specialDoc, actualValue); err != nil {
				return newMatchingError(fullKeyPath, "error doing special matching assertion: %v", err)
			}
			continue
		}
		if err != nil {
			return newMatchingError(fullKeyPath, "key not found in actual document")
		}

		// Nested documents cannot have extra keys.
		if err := m.match(fullKeyPath, expectedValue, actualValue, false); err != nil {
			return err
		}
	}

	// Extra keys are found by looking up each actual key in the expected document. Comparing lengths would be wrong
	// because {y: {$$exists: false}} has one element but matches {}.
	if !extraKeysAllowed {
		actualElems, _ := actualDoc.Elements()
		for _, actualElem := range actualElems {
			if _, err := expectedDoc.LookupErr(actualElem.Key()); err != nil {
				return newMatchingError(keyPath, "extra key %q found in actual document %s", actualElem.Key(),
					actualDoc)
			}
		}
	}
	return nil
}

func (m valueMatcher) matchArray(keyPath string, expectedArr bson.Raw, actual bson.RawValue,
	extraKeysAllowed bool) error {

	actualArr, ok := actual.ArrayOK()
	if !ok {
		return newMatchingError(keyPath, "expected value to be an array but got a %s", actual.Type)
	}

	expectedValues, _ := expectedArr.Values()
	actualValues, _ := actualArr.Values()
	if len(expectedValues) != len(actualValues) {
		return newMatchingError(keyPath, "expected array length %d, got %d", len(expectedValues),
			len(actualValues))
	}

	for idx, expectedValue := range expectedValues {
		fullKeyPath := joinKeyPath(keyPath, strconv.Itoa(idx))
		if err := m.match(fullKeyPath, expectedValue, actualValues[idx], extraKeysAllowed); err != nil {
			return err
		}
	}
	return nil
}

// matchNumber compares numbers regardless of their BSON type. Integers are compared exactly; if either side is a
// double both are compared as doubles.
func matchNumber(keyPath string, expected, actual bson.RawValue) error {
	if !actual.IsNumber() {
		return newMatchingError(keyPath, "expected value to be a number but got a %s", actual.Type)
	}

	if expected.Type == bsontype.Double || actual.Type == bsontype.Double {
		expectedFloat, actualFloat := numberAsFloat(expected), numberAsFloat(actual)
		if expectedFloat != actualFloat {
			return newMatchingError(keyPath, "expected numeric value %v, got %v", expectedFloat, actualFloat)
		}
		return nil
	}

	expectedInt64 := expected.AsInt64()
	actualInt64 := actual.AsInt64()
	if expectedInt64 != actualInt64 {
		return newMatchingError(keyPath, "expected numeric value %d, got %d", expectedInt64, actualInt64)
	}
	return nil
}

func numberAsFloat(val bson.RawValue) float64 {
	if f, ok := val.DoubleOK(); ok {
		return f
	}
	return float64(val.AsInt64())
}

func joinKeyPath(keyPath, key string) string {
	if keyPath == "" {
		return key
	}
	return keyPath + "." + key
}

func (m valueMatcher) evaluateSpecialComparison(keyPath string, assertionDoc bson.Raw, actual bson.RawValue) error {
	assertionElem := assertionDoc.Index(0)
	assertion := assertionElem.Key()
	assertionVal := assertionElem.Value()

	switch assertion {
	case "$$exists":
		shouldExist, ok := assertionVal.BooleanOK()
		if !ok {
			return fmt.Errorf("expected $$exists value to be a boolean but got a %s", assertionVal.Type)
		}
		exists := actual.Validate() == nil
		if shouldExist != exists {
			return fmt.Errorf("expected value to exist: %v; value actually exists: %v", shouldExist, exists)
		}
	case "$$type":
		possibleTypes, err := getTypesArray(assertionVal)
		if err != nil {
			return fmt.Errorf("error getting possible types for a $$type assertion: %v", err)
		}
		for _, possibleType := range possibleTypes {
			if actual.Type == possibleType {
				return nil
			}
		}
		return fmt.Errorf("expected type to be one of %v but was %s", possibleTypes, actual.Type)
	case "$$matchesEntity":
		if m.em == nil {
			return fmt.Errorf("no entities available to resolve $$matchesEntity %s", assertionVal)
		}
		id, ok := assertionVal.StringValueOK()
		if !ok {
			return fmt.Errorf("expected $$matchesEntity value to be a string but got a %s", assertionVal.Type)
		}
		expected, err := m.em.BSONValue(id)
		if err != nil {
			return err
		}
		// $$matchesEntity does not change the nesting level, so extra keys stay disallowed.
		return m.match(keyPath, expected, actual, false)
	case "$$matchesHexBytes":
		hexStr, ok := assertionVal.StringValueOK()
		if !ok {
			return fmt.Errorf("expected $$matchesHexBytes value to be a string but got a %s", assertionVal.Type)
		}
		expectedBytes, err := hex.DecodeString(hexStr)
		if err != nil {
			return fmt.Errorf("error converting $$matchesHexBytes value to bytes: %v", err)
		}
		_, actualBytes, ok := actual.BinaryOK()
		if !ok {
			return fmt.Errorf("expected binary value for a $$matchesHexBytes assertion, but got a %s", actual.Type)
		}
		if !bytes.Equal(expectedBytes, actualBytes) {
			return fmt.Errorf("expected bytes %v, got %v", expectedBytes, actualBytes)
		}
	case "$$unsetOrMatches":
		if actual.Validate() != nil {
			return nil
		}
		return m.match(keyPath, assertionVal, actual, false)
	case "$$sessionLsid":
		if m.em == nil {
			return fmt.Errorf("no entities available to resolve $$sessionLsid %s", assertionVal)
		}
		id, ok := assertionVal.StringValueOK()
		if !ok {
			return fmt.Errorf("expected $$sessionLsid value to be a string but got a %s", assertionVal.Type)
		}
		se, err := m.em.sessionEntity(id)
		if err != nil {
			return err
		}
		actualID, ok := actual.DocumentOK()
		if !ok {
			return fmt.Errorf("expected document value for a $$sessionLsid assertion, but got a %s", actual.Type)
		}
		if !bytes.Equal(se.lsid, actualID) {
			return fmt.Errorf("expected lsid %v, got %v", se.lsid, actualID)
		}
	case "$$lte":
		if !assertionVal.IsNumber() {
			return fmt.Errorf("expected $$lte value to be a number but got a %s", assertionVal.Type)
		}
		if !actual.IsNumber() {
			return fmt.Errorf("expected value to be a number but got a %s", actual.Type)
		}
		if numberAsFloat(actual) > numberAsFloat(assertionVal) {
			return fmt.Errorf("expected numeric value %s to be less than or equal %s", actual, assertionVal)
		}
	default:
		return fmt.Errorf("unrecognized special matching assertion %q", assertion)
	}
	return nil
}

func requiresSpecialMatching(doc bson.Raw) bool {
	elems, _ := doc.Elements()
	return len(elems) == 1 && strings.HasPrefix(elems[0].Key(), "$$")
}

func getTypesArray(val bson.RawValue) ([]bsontype.Type, error) {
	switch val.Type {
	case bsontype.String:
		return convertStringToBSONTypes(val.StringValue())
	case bsontype.Array:
		var typeStrings []string
		if err := val.Unmarshal(&typeStrings); err != nil {
			return nil, fmt.Errorf("error unmarshalling to slice of strings: %v", err)
		}

		var types []bsontype.Type
		for _, typeStr := range typeStrings {
			converted, err := convertStringToBSONTypes(typeStr)
			if err != nil {
				return nil, err
			}
			types = append(types, converted...)
		}
		return types, nil
	default:
		return nil, fmt.Errorf("invalid type to convert to bsontype.Type slice: %s", val.Type)
	}
}

var bsonTypeAliases = map[string]bsontype.Type{
	"double":              bsontype.Double,
	"string":              bsontype.String,
	"object":              bsontype.EmbeddedDocument,
	"array":               bsontype.Array,
	"binData":             bsontype.Binary,
	"undefined":           bsontype.Undefined,
	"objectId":            bsontype.ObjectID,
	"bool":                bsontype.Boolean,
	"date":                bsontype.DateTime,
	"null":                bsontype.Null,
	"regex":               bsontype.Regex,
	"dbPointer":           bsontype.DBPointer,
	"javascript":          bsontype.JavaScript,
	"symbol":              bsontype.Symbol,
	"javascriptWithScope": bsontype.CodeWithScope,
	"int":                 bsontype.Int32,
	"timestamp":           bsontype.Timestamp,
	"long":                bsontype.Int64,
	"decimal":             bsontype.Decimal128,
	"minKey":              bsontype.MinKey,
	"maxKey":              bsontype.MaxKey,
}

// convertStringToBSONTypes resolves a $type alias. "number" expands to every numeric type.
func convertStringToBSONTypes(typeStr string) ([]bsontype.Type, error) {
	if typeStr == "number" {
		return []bsontype.Type{bsontype.Int32, bsontype.Int64, bsontype.Double, bsontype.Decimal128}, nil
	}
	t, ok := bsonTypeAliases[typeStr]
	if !ok {
		return nil, fmt.Errorf("unrecognized BSON type string %q", typeStr)
	}
	return []bsontype.Type{t}, nil
}

// newMatchingError creates an error to convey that BSON value comparison failed at the provided key path. If the
// key path is empty (e.g. because the values being compared were not documents), the error message will contain the
// phrase "top-level" instead of the path.
func newMatchingError(keyPath, msg string, args ...interface{}) error {
	fullMsg := fmt.Sprintf(msg, args...)
	if keyPath == "" {
		return fmt.Errorf("comparison error at top-level: %s", fullMsg)
	}
	return fmt.Errorf("comparison error at key %q: %s", keyPath, fullMsg)
}
