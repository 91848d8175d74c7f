// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package unified

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// localMasterKey is the base64 encoding of the 96-byte local master key used by the client-side encryption tests.
const localMasterKey = "Mng0NCt4ZHVUYUJCa1kxNkVyNUR1QURhZ2h2UzR2d2RrZzh0cFBwM3R6NmdWMDFBMUN3YkQ5aXRRMkhGRGdQV09wOGVNYUMxT2k3NjZKelhaQmRCZGJkTXVyZG9uSjFk"

const defaultKMIPEndpoint = "localhost:5698"

// clientEncryptionEntity wraps a mongo.ClientEncryption. The key vault client is owned by its own client entity.
type clientEncryptionEntity struct {
	*mongo.ClientEncryption
}

func (*clientEncryptionEntity) kind() entityKind { return clientEncryptionKind }

func (ce *clientEncryptionEntity) close(ctx context.Context) error {
	return ce.ClientEncryption.Close(ctx)
}

type clientEncryptionOpts struct {
	KeyVaultClient    string                 `bson:"keyVaultClient"`
	KeyVaultNamespace string                 `bson:"keyVaultNamespace"`
	KmsProviders      bson.Raw               `bson:"kmsProviders"`
	Extra             map[string]interface{} `bson:",inline"`
}

func newClientEncryptionEntity(_ context.Context, em *EntityMap, doc bson.Raw) (*clientEncryptionEntity, error) {
	var temp struct {
		ID    string                 `bson:"id"`
		Opts  *clientEncryptionOpts  `bson:"clientEncryptionOpts"`
		Extra map[string]interface{} `bson:",inline"`
	}
	if err := bson.Unmarshal(doc, &temp); err != nil {
		return nil, errors.Wrap(err, "error parsing clientEncryption entity")
	}
	if len(temp.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'clientEncryption.%s'", mapKeys(temp.Extra)[0])
	}
	if temp.Opts == nil {
		return nil, errors.New("clientEncryption entity is missing required field \"clientEncryptionOpts\"")
	}
	opts := temp.Opts
	if len(opts.Extra) > 0 {
		return nil, errors.Errorf("unexpected field 'clientEncryptionOpts.%s'", mapKeys(opts.Extra)[0])
	}

	kvClient, err := em.client(opts.KeyVaultClient)
	if err != nil {
		return nil, errors.Wrap(err, "error resolving keyVaultClient")
	}
	if err := validateKeyVaultNamespace(opts.KeyVaultNamespace); err != nil {
		return nil, err
	}
	if opts.KmsProviders == nil {
		return nil, errors.New("clientEncryptionOpts is missing required field \"kmsProviders\"")
	}

	providers, tlsOpts, err := parseKMSProviders(opts.KmsProviders, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	ceOpts := options.ClientEncryption().
		SetKeyVaultNamespace(opts.KeyVaultNamespace).
		SetKmsProviders(providers)
	if len(tlsOpts) > 0 {
		tlsConfig := make(map[string]*tls.Config, len(tlsOpts))
		for provider, cfgOpts := range tlsOpts {
			cfg, err := options.BuildTLSConfig(cfgOpts)
			if err != nil {
				return nil, errors.Wrapf(err, "error building TLS configuration for KMS provider %q", provider)
			}
			tlsConfig[provider] = cfg
		}
		ceOpts.SetTLSConfig(tlsConfig)
	}

	ce, err := mongo.NewClientEncryption(kvClient.Client, ceOpts)
	if err != nil {
		return nil, errors.Wrap(err, "error creating mongo.ClientEncryption")
	}
	return &clientEncryptionEntity{ClientEncryption: ce}, nil
}

func validateKeyVaultNamespace(ns string) error {
	switch strings.Count(ns, ".") {
	case 0:
		return fmt.Errorf("keyVaultNamespace %q does not have required dot separator", ns)
	case 1:
		return nil
	default:
		return fmt.Errorf("keyVaultNamespace %q contains more than one dot separator", ns)
	}
}

// kmsField describes one recognized field of a KMS provider document. An empty env means the field has no
// environment fallback.
type kmsField struct {
	env string
}

// kmsProviderFields lists the recognized fields of each provider type.
var kmsProviderFields = map[string]map[string]kmsField{
	"aws": {
		"accessKeyId":     {env: "MONGOC_TEST_AWS_ACCESS_KEY_ID"},
		"secretAccessKey": {env: "MONGOC_TEST_AWS_SECRET_ACCESS_KEY"},
	},
	"azure": {
		"tenantId":     {env: "MONGOC_TEST_AZURE_TENANT_ID"},
		"clientId":     {env: "MONGOC_TEST_AZURE_CLIENT_ID"},
		"clientSecret": {env: "MONGOC_TEST_AZURE_CLIENT_SECRET"},
	},
	"gcp": {
		"email":      {env: "MONGOC_TEST_GCP_EMAIL"},
		"privateKey": {env: "MONGOC_TEST_GCP_PRIVATEKEY"},
		"endpoint":   {},
	},
	"kmip": {
		"endpoint": {},
	},
	"local": {
		"key": {},
	},
}

var knownKMSProviders = map[string]struct{}{
	"aws": {}, "aws:name1": {}, "aws:name2": {},
	"azure": {}, "azure:name1": {},
	"gcp": {}, "gcp:name1": {},
	"kmip": {}, "kmip:name1": {},
	"local": {}, "local:name1": {}, "local:name2": {},
}

// parseKMSProviders converts the kmsProviders document of a test file into the maps accepted by the driver. Values
// given as {$$placeholder: ...} are replaced with credentials read through lookupEnv.
func parseKMSProviders(doc bson.Raw, lookupEnv func(string) (string, bool)) (map[string]map[string]interface{},
	map[string]map[string]interface{}, error) {

	elems, err := doc.Elements()
	if err != nil {
		return nil, nil, err
	}

	providers := make(map[string]map[string]interface{}, len(elems))
	tlsOpts := make(map[string]map[string]interface{})
	for _, elem := range elems {
		provider := elem.Key()
		if _, ok := knownKMSProviders[provider]; !ok {
			return nil, nil, fmt.Errorf("unexpected KMS provider '%s'", provider)
		}
		providerDoc, ok := elem.Value().DocumentOK()
		if !ok {
			return nil, nil, fmt.Errorf("kmsProviders field '%s' is not a valid document", provider)
		}

		providerType := strings.SplitN(provider, ":", 2)[0]
		parsed, err := parseKMSProvider(provider, providerType, providerDoc, lookupEnv)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "error parsing KMS provider %q", provider)
		}
		providers[provider] = parsed

		if providerType == "kmip" {
			caFile, err := requireEnv(lookupEnv, "MONGOC_TEST_CSFLE_TLS_CA_FILE")
			if err != nil {
				return nil, nil, err
			}
			certFile, err := requireEnv(lookupEnv, "MONGOC_TEST_CSFLE_TLS_CERTIFICATE_KEY_FILE")
			if err != nil {
				return nil, nil, err
			}
			tlsOpts[provider] = map[string]interface{}{
				"tlsCAFile":             caFile,
				"tlsCertificateKeyFile": certFile,
			}
		}
	}
	return providers, tlsOpts, nil
}

func parseKMSProvider(provider, providerType string, doc bson.Raw, lookupEnv func(string) (string, bool)) (
	map[string]interface{}, error) {

	fields := kmsProviderFields[providerType]
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(elems))
	for _, elem := range elems {
		key := elem.Key()
		field, ok := fields[key]
		if !ok {
			return nil, fmt.Errorf("unexpected field '%s'", key)
		}

		explicit, isPlaceholder, err := stringOrPlaceholder(elem.Value())
		if err != nil {
			return nil, fmt.Errorf("field '%s': %v", key, err)
		}
		if !isPlaceholder {
			out[key] = explicit
			continue
		}

		switch {
		case providerType == "local":
			decoded, err := base64.StdEncoding.DecodeString(localMasterKey)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		case providerType == "kmip":
			out[key] = defaultKMIPEndpoint
		case field.env == "":
			// Placeholder endpoints fall back to the provider default.
		default:
			env := field.env
			if provider == "aws:name2" {
				env = strings.Replace(env, "MONGOC_TEST_AWS_", "MONGOC_TEST_AWSNAME2_", 1)
			}
			val, err := requireEnv(lookupEnv, env)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
	}

	// KMIP always needs an endpoint.
	if providerType == "kmip" {
		if _, ok := out["endpoint"]; !ok {
			out["endpoint"] = defaultKMIPEndpoint
		}
	}
	return out, nil
}

// stringOrPlaceholder returns the string value of val or reports that it is a {$$placeholder: ...} document.
func stringOrPlaceholder(val bson.RawValue) (string, bool, error) {
	switch val.Type {
	case bsontype.String:
		return val.StringValue(), false, nil
	case bsontype.EmbeddedDocument:
		doc := val.Document()
		elems, err := doc.Elements()
		if err == nil && len(elems) == 1 && elems[0].Key() == "$$placeholder" {
			return "", true, nil
		}
	}
	return "", false, errors.New("expected string or placeholder value")
}

func requireEnv(lookupEnv func(string) (string, bool), name string) (string, error) {
	val, ok := lookupEnv(name)
	if !ok || val == "" {
		return "", fmt.Errorf("expected environment variable %s to be set", name)
	}
	return val, nil
}
