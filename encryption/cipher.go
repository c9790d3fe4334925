// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/poiesic/docvault/core"
)

const (
	// NonceSize is the AES-GCM IV length in bytes (96 bits).
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
)

// CanonicalJSON serializes v with object keys sorted at every depth.
// Equal values always produce identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	// Decoding into interface{} turns every object into a map, which
	// encoding/json marshals with sorted keys.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return json.Marshal(generic)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrKeyMissing, err)
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext and returns base64(IV || ciphertext || tag).
func seal(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// open reverses seal. Any malformed or unauthenticated input yields
// core.ErrDecryptionFailed and no plaintext.
func open(encoded string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", core.ErrDecryptionFailed, err)
	}
	if len(data) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: ciphertext too short", core.ErrDecryptionFailed)
	}
	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func checksum(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
