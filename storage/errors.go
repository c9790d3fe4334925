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


package storage

import (
	"errors"

	"github.com/poiesic/docvault/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = core.ErrNotFound

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrOutOfScope indicates a transaction touched a collection it did not declare.
	ErrOutOfScope = errors.New("collection not in transaction scope")

	// ErrReadOnlyTxn indicates a write inside a read-only transaction.
	ErrReadOnlyTxn = errors.New("write in read-only transaction")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrUnknownRecordVersion indicates a record written by a newer schema.
	ErrUnknownRecordVersion = errors.New("unknown record version")

	// ErrInvalidMaxRetries is returned when maxRetries is negative.
	ErrInvalidMaxRetries = errors.New("maxRetries must not be negative")
)

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, core.ErrTransient)
}
