/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Encryption Interceptor
======================

The engine stores opaque values and leaves cipher framing to interceptors.
This interceptor encrypts values with AES-256-GCM before they reach the WAL
and decrypts them on the way back to the caller.

Key Derivation:
===============

The key is derived from a passphrase using PBKDF2 with SHA-256 and 100,000
iterations. Always provide a unique salt per database; the default salt
exists for development setups only.

Stored Representation:
======================

	enc:v1:<base64(nonce || ciphertext || tag)>

The prefix makes encrypted values self-describing, so a store opened
without the interceptor fails loudly (opaque strings) instead of silently
returning ciphertext as documents.
*/
package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// encPrefix marks an encrypted stored representation.
const encPrefix = "enc:v1:"

// DefaultEncryptionSalt is used when no salt is provided for key
// derivation. In production, always use a unique salt per database.
var DefaultEncryptionSalt = []byte("driftdb-default-salt-v1")

// encryptionIterations is the number of PBKDF2 iterations.
const encryptionIterations = 100000

// EncryptionInterceptor encrypts values at the interceptor seam.
type EncryptionInterceptor struct {
	gcm cipher.AEAD
}

// NewEncryptionInterceptor derives an AES-256 key from the passphrase and
// returns the ready interceptor.
func NewEncryptionInterceptor(passphrase string, salt []byte) (*EncryptionInterceptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase must not be empty")
	}
	if len(salt) == 0 {
		salt = DefaultEncryptionSalt
	}
	key := pbkdf2.Key([]byte(passphrase), salt, encryptionIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptionInterceptor{gcm: gcm}, nil
}

// Name implements Interceptor.
func (i *EncryptionInterceptor) Name() string { return "encryption" }

// PreWrite serialises and encrypts the value.
func (i *EncryptionInterceptor) PreWrite(key string, value interface{}) (interface{}, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encryption: failed to serialise value for '%s': %w", key, err)
	}

	nonce := make([]byte, i.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: failed to generate nonce: %w", err)
	}
	sealed := i.gcm.Seal(nonce, nonce, plaintext, nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// PostRead decrypts values carrying the encrypted representation prefix;
// everything else passes through untouched.
func (i *EncryptionInterceptor) PostRead(key string, value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, encPrefix) {
		return value, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, encPrefix))
	if err != nil {
		return nil, fmt.Errorf("encryption: malformed ciphertext for '%s': %w", key, err)
	}
	if len(sealed) < i.gcm.NonceSize() {
		return nil, fmt.Errorf("encryption: truncated ciphertext for '%s'", key)
	}
	nonce, ciphertext := sealed[:i.gcm.NonceSize()], sealed[i.gcm.NonceSize():]
	plaintext, err := i.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: decryption failed for '%s': %w", key, err)
	}
	var out interface{}
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("encryption: failed to deserialise value for '%s': %w", key, err)
	}
	return out, nil
}
