// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v2"
)

// YAMLToExtJSON converts a YAML document into extended JSON. Key order is preserved so the result can be parsed into
// a bson.Raw whose element order matches the source file.
func YAMLToExtJSON(data []byte) ([]byte, error) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling YAML")
	}

	var buf bytes.Buffer
	if err := writeYAMLValue(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseTestDocument parses a JSON or YAML test file into a bson.Raw. Files are treated as YAML when the name ends in
// ".yml" or ".yaml".
func ParseTestDocument(name string, data []byte) (bson.Raw, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml") {
		converted, err := YAMLToExtJSON(data)
		if err != nil {
			return nil, errors.Wrapf(err, "error converting %s to JSON", name)
		}
		data = converted
	}

	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, errors.Wrapf(err, "error parsing %s as extended JSON", name)
	}
	return doc, nil
}

func writeYAMLValue(buf *bytes.Buffer, val interface{}) error {
	switch typed := val.(type) {
	case yaml.MapSlice:
		buf.WriteByte('{')
		for idx, item := range typed {
			if idx > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, fmt.Sprint(item.Key)); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeYAMLValue(buf, item.Value); err != nil {
				return errors.Wrapf(err, "at key %v", item.Key)
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for idx, item := range typed {
			if idx > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLValue(buf, item); err != nil {
				return errors.Wrapf(err, "at index %d", idx)
			}
		}
		buf.WriteByte(']')
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(typed))
	case int:
		buf.WriteString(strconv.Itoa(typed))
	case int64:
		buf.WriteString(strconv.FormatInt(typed, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(typed, 10))
	case float64:
		// Keep a fractional part so the value is parsed back as a double rather than an integer.
		str := strconv.FormatFloat(typed, 'f', -1, 64)
		if !strings.ContainsAny(str, ".eEn") {
			str += ".0"
		}
		buf.WriteString(str)
	case string:
		return writeJSONString(buf, typed)
	default:
		return errors.Errorf("unsupported YAML value of type %T", val)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, str string) error {
	encoded, err := json.Marshal(str)
	if err != nil {
		return errors.Wrap(err, "error encoding string")
	}
	buf.Write(encoded)
	return nil
}
