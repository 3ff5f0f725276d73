// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"errors"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the keyring service name secrets are stored under.
const KeyringService = "weft"

// SecretMapping ties a keyring key to an environment variable and a
// Config field.
type SecretMapping struct {
	KeyringKey string
	EnvVar     string
	Get        func(*Config) string
	Set        func(*Config, string)
}

// SecretMappings lists every secret weft resolves.
func SecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			EnvVar:     "ANTHROPIC_API_KEY",
			Get:        func(c *Config) string { return c.LLM.APIKey },
			Set:        func(c *Config, v string) { c.LLM.APIKey = v },
		},
		{
			KeyringKey: "openai_api_key",
			EnvVar:     "OPENAI_API_KEY",
			Get:        func(c *Config) string { return c.Semantic.APIKey },
			Set:        func(c *Config, v string) { c.Semantic.APIKey = v },
		},
		{
			KeyringKey: "storage_encryption_key",
			EnvVar:     "WEFT_STORAGE_ENCRYPTION_KEY",
			Get:        func(c *Config) string { return c.Storage.EncryptionKey },
			Set:        func(c *Config, v string) { c.Storage.EncryptionKey = v },
		},
	}
}

// SecretKeys returns the keyring keys accepted by SaveSecret.
func SecretKeys() []string {
	mappings := SecretMappings()
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.KeyringKey
	}
	return keys
}

// ResolveSecrets fills empty secret fields from the environment, then from
// the OS keyring. Keyring errors other than a missing entry are returned
// after every mapping was tried.
func ResolveSecrets(cfg *Config) error {
	var errs []error
	for _, m := range SecretMappings() {
		if m.Get(cfg) != "" {
			continue
		}
		if v := os.Getenv(m.EnvVar); v != "" {
			m.Set(cfg, v)
			continue
		}
		v, err := keyring.Get(KeyringService, m.KeyringKey)
		switch {
		case err == nil:
			m.Set(cfg, v)
		case !errors.Is(err, keyring.ErrNotFound):
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrUnknownSecret is returned for a key not in SecretKeys.
var ErrUnknownSecret = errors.New("unknown secret key")

// SaveSecret stores a secret in the OS keyring.
func SaveSecret(key, value string) error {
	if !knownSecret(key) {
		return ErrUnknownSecret
	}
	return keyring.Set(KeyringService, key, value)
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(key string) error {
	if !knownSecret(key) {
		return ErrUnknownSecret
	}
	return keyring.Delete(KeyringService, key)
}

func knownSecret(key string) bool {
	for _, k := range SecretKeys() {
		if k == key {
			return true
		}
	}
	return false
}
