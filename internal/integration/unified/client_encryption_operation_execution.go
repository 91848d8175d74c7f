// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// This file contains helpers to execute key vault and explicit encryption operations.

// setDataKeyOptions parses the "opts" document of createDataKey.
func setDataKeyOptions(dko *options.DataKeyOptions, doc bson.Raw) error {
	elems, err := doc.Elements()
	if err != nil {
		return err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "masterKey":
			masterKey := make(map[string]interface{})
			if err := val.Unmarshal(&masterKey); err != nil {
				return fmt.Errorf("error unmarshalling 'masterKey': %v", err)
			}
			dko.SetMasterKey(masterKey)
		case "keyAltNames":
			var keyAltNames []string
			if err := val.Unmarshal(&keyAltNames); err != nil {
				return fmt.Errorf("error unmarshalling 'keyAltNames': %v", err)
			}
			dko.SetKeyAltNames(keyAltNames)
		case "keyMaterial":
			_, data, ok := val.BinaryOK()
			if !ok {
				return fmt.Errorf("expected 'keyMaterial' to be binary, got %s", val.Type)
			}
			dko.SetKeyMaterial(data)
		default:
			return fmt.Errorf("unrecognized DataKeyOptions field %q", key)
		}
	}
	return nil
}

func executeCreateDataKey(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}

	var kmsProvider string
	dko := options.DataKey()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "kmsProvider":
			kmsProvider = val.StringValue()
		case "opts":
			if err := setDataKeyOptions(dko, val.Document()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unrecognized createDataKey option %q", key)
		}
	}
	if kmsProvider == "" {
		return nil, newMissingArgumentError("kmsProvider")
	}

	bin, err := ce.CreateDataKey(ctx, kmsProvider, dko)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newBinaryResult(bin), nil
}

// rewrapManyDataKeyResult renders the driver result as {bulkWriteResult: {...}}. The inner document is empty when no
// keys matched the filter.
func rewrapManyDataKeyResult(result *mongo.RewrapManyDataKeyResult) (*operationResult, error) {
	bulkWriteResult := bsoncore.NewDocumentBuilder()
	if res := result.BulkWriteResult; res != nil {
		upsertedIDs := emptyDocument
		if res.UpsertedIDs != nil {
			var err error
			if upsertedIDs, err = bson.Marshal(res.UpsertedIDs); err != nil {
				return nil, fmt.Errorf("error marshalling UpsertedIDs map to BSON: %v", err)
			}
		}
		bulkWriteResult.
			AppendInt64("insertedCount", res.InsertedCount).
			AppendInt64("deletedCount", res.DeletedCount).
			AppendInt64("matchedCount", res.MatchedCount).
			AppendInt64("modifiedCount", res.ModifiedCount).
			AppendInt64("upsertedCount", res.UpsertedCount).
			AppendDocument("upsertedIds", upsertedIDs)
	}

	raw := bsoncore.NewDocumentBuilder().
		AppendDocument("bulkWriteResult", bulkWriteResult.Build()).
		Build()
	return newDocumentResult(raw, nil), nil
}

func executeRewrapManyDataKey(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}

	var filter bson.Raw
	opts := options.RewrapManyDataKey()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "filter":
			filter = val.Document()
		case "opts":
			optElems, err := val.Document().Elements()
			if err != nil {
				return nil, err
			}
			for _, optElem := range optElems {
				switch optKey := optElem.Key(); optKey {
				case "provider":
					opts.SetProvider(optElem.Value().StringValue())
				case "masterKey":
					opts.SetMasterKey(optElem.Value().Document())
				default:
					return nil, fmt.Errorf("unrecognized RewrapManyDataKeyOptions field %q", optKey)
				}
			}
		default:
			return nil, fmt.Errorf("unrecognized rewrapManyDataKey option %q", key)
		}
	}
	if filter == nil {
		return nil, newMissingArgumentError("filter")
	}

	result, err := ce.RewrapManyDataKey(ctx, filter, opts)
	if err != nil {
		return newErrorResult(err), nil
	}
	return rewrapManyDataKeyResult(result)
}

// keyIDArgument reads the binary "id" argument used by the key vault operations.
func keyIDArgument(args bson.Raw) (primitive.Binary, error) {
	val, err := args.LookupErr("id")
	if err != nil {
		return primitive.Binary{}, newMissingArgumentError("id")
	}
	subtype, data, ok := val.BinaryOK()
	if !ok {
		return primitive.Binary{}, fmt.Errorf("expected 'id' to be binary, got %s", val.Type)
	}
	return primitive.Binary{Subtype: subtype, Data: data}, nil
}

func keyAltNameArgument(args bson.Raw) (string, error) {
	name, ok := args.Lookup("keyAltName").StringValueOK()
	if !ok {
		return "", newMissingArgumentError("keyAltName")
	}
	return name, nil
}

// newKeyDocumentResult converts a key vault lookup to a result. A missing key document is a null value, not an error.
func newKeyDocumentResult(sr *mongo.SingleResult) *operationResult {
	raw, err := sr.DecodeBytes()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return newValueResult(bsontype.Null, []byte{}, nil)
	}
	if err != nil {
		return newErrorResult(err)
	}
	return newDocumentResult(raw, nil)
}

func executeDeleteKey(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := keyIDArgument(op.Arguments)
	if err != nil {
		return nil, err
	}

	res, err := ce.DeleteKey(ctx, id)
	if err != nil {
		return newErrorResult(err), nil
	}
	raw := bsoncore.NewDocumentBuilder().AppendInt64("deletedCount", res.DeletedCount).Build()
	return newDocumentResult(raw, nil), nil
}

func executeGetKey(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := keyIDArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newKeyDocumentResult(ce.GetKey(ctx, id)), nil
}

func executeGetKeys(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	if len(op.Arguments) > 0 {
		if elems, _ := op.Arguments.Elements(); len(elems) > 0 {
			return nil, fmt.Errorf("unrecognized getKeys option %q", elems[0].Key())
		}
	}

	cursor, err := ce.GetKeys(ctx)
	if err != nil {
		return newErrorResult(err), nil
	}
	return drainCursor(ctx, cursor), nil
}

func executeAddKeyAltName(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := keyIDArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	name, err := keyAltNameArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newKeyDocumentResult(ce.AddKeyAltName(ctx, id, name)), nil
}

func executeRemoveKeyAltName(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	id, err := keyIDArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	name, err := keyAltNameArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newKeyDocumentResult(ce.RemoveKeyAltName(ctx, id, name)), nil
}

func executeGetKeyByAltName(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}
	name, err := keyAltNameArgument(op.Arguments)
	if err != nil {
		return nil, err
	}
	return newKeyDocumentResult(ce.GetKeyByAltName(ctx, name)), nil
}

func createEncryptOptions(doc bson.Raw) (*options.EncryptOptions, error) {
	eo := options.Encrypt()
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "keyId":
			subtype, data, ok := val.BinaryOK()
			if !ok {
				return nil, fmt.Errorf("expected 'keyId' to be binary, got %s", val.Type)
			}
			eo.SetKeyID(primitive.Binary{Subtype: subtype, Data: data})
		case "keyAltName":
			eo.SetKeyAltName(val.StringValue())
		case "algorithm":
			eo.SetAlgorithm(val.StringValue())
		case "contentionFactor":
			eo.SetContentionFactor(val.AsInt64())
		case "queryType":
			eo.SetQueryType(val.StringValue())
		default:
			return nil, fmt.Errorf("unrecognized EncryptOptions field %q", key)
		}
	}
	return eo, nil
}

func executeEncrypt(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}

	var value *bson.RawValue
	eo := options.Encrypt()

	elems, err := argumentElements(op.Arguments)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		key := elem.Key()
		val := elem.Value()

		switch key {
		case "value":
			value = &val
		case "opts":
			if eo, err = createEncryptOptions(val.Document()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unrecognized encrypt option %q", key)
		}
	}
	if value == nil {
		return nil, newMissingArgumentError("value")
	}

	bin, err := ce.Encrypt(ctx, *value, eo)
	if err != nil {
		return newErrorResult(err), nil
	}
	return newBinaryResult(bin), nil
}

func executeDecrypt(ctx context.Context, op *operation) (*operationResult, error) {
	ce, err := entities(ctx).clientEncryption(op.Object)
	if err != nil {
		return nil, err
	}

	val, err := op.Arguments.LookupErr("value")
	if err != nil {
		return nil, newMissingArgumentError("value")
	}
	subtype, data, ok := val.BinaryOK()
	if !ok {
		return nil, fmt.Errorf("expected 'value' to be binary, got %s", val.Type)
	}

	plaintext, err := ce.Decrypt(ctx, primitive.Binary{Subtype: subtype, Data: data})
	if err != nil {
		return newErrorResult(err), nil
	}
	return newValueResult(plaintext.Type, plaintext.Value, nil), nil
}

func newBinaryResult(bin primitive.Binary) *operationResult {
	return newValueResult(bsontype.Binary, bsoncore.AppendBinary(nil, bin.Subtype, bin.Data), nil)
}
