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


package core

import (
	"errors"
)

// Error taxonomy shared by every layer.
var (
	// ErrNotInitialized indicates an operation ran before the storage was initialized.
	ErrNotInitialized = errors.New("storage not initialized")

	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrReadOnly indicates a mutation of a read-only record.
	ErrReadOnly = errors.New("record is read-only")

	// ErrProtected indicates a hard delete of a seeded default record.
	ErrProtected = errors.New("default record cannot be removed")

	// ErrKeyMissing indicates no encryption key is available.
	ErrKeyMissing = errors.New("encryption key not available")

	// ErrKeyDerivation indicates key generation or derivation failed.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrDecryptionFailed indicates ciphertext failed authentication or decoding.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrIntegrity indicates a checksum did not match the decrypted payload.
	ErrIntegrity = errors.New("data integrity check failed")

	// ErrTransient indicates a failure that may succeed on retry.
	ErrTransient = errors.New("transient storage failure")

	// ErrTransactionFailed indicates a transaction could not be committed.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Validation errors
var (
	// ErrInvalidDocument indicates a document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyTitle indicates the Title field is empty.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrDuplicateNodeID indicates two nodes share an id.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrEmptyNodeID indicates a node without an id.
	ErrEmptyNodeID = errors.New("node id cannot be empty")

	// ErrInvalidVersion indicates a history version request failed validation.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidDiff indicates a diff cannot be applied.
	ErrInvalidDiff = errors.New("invalid diff")

	// ErrUnsupportedFormat indicates an unknown export/import format.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ErrorKind classifies an error onto the taxonomy.
type ErrorKind string

const (
	KindNotInitialized ErrorKind = "not-initialized"
	KindNotFound       ErrorKind = "not-found"
	KindReadOnly       ErrorKind = "read-only-violation"
	KindCrypto         ErrorKind = "cryptographic-failure"
	KindIntegrity      ErrorKind = "data-integrity-mismatch"
	KindTransient      ErrorKind = "transient-io"
	KindValidation     ErrorKind = "validation"
	KindTransaction    ErrorKind = "transaction-failure"
)

// KindOf maps err onto the error taxonomy. Unknown errors are transaction
// failures: they originate inside a caller-supplied transaction body.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrReadOnly), errors.Is(err, ErrProtected):
		return KindReadOnly
	case errors.Is(err, ErrKeyMissing), errors.Is(err, ErrKeyDerivation), errors.Is(err, ErrDecryptionFailed):
		return KindCrypto
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrInvalidVersion),
		errors.Is(err, ErrInvalidDiff), errors.Is(err, ErrUnsupportedFormat):
		return KindValidation
	default:
		return KindTransaction
	}
}
