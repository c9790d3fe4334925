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


// Package storage provides the storage abstraction layer for docvault.
//
// This package defines repository interfaces that decouple the encrypted
// document store from business logic, the binary record encoding shared by
// backends, and a retry helper for transient failures.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - WorkRepository: CRUD, soft delete, listing and export for works
//   - TemplateRepository: the same for templates, plus usage counting
//   - HistoryRepository: append-only versions with restore and retention
//   - ShardRepository: encrypted partitions of large node lists
//
// Every repository read that decrypts a payload recomputes its checksum and
// reports a mismatch as core.ErrIntegrity. Listing operations exclude
// corrupted records instead of failing.
//
// # Usage
//
// Open a backend and construct repositories over it:
//
//	backend, err := badger.OpenBackend(badger.BackendConfig{Path: "/path/to/db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := backend.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines. Concurrent writers to the
// same record resolve as last-write-wins.
//
// # Context Support
//
// All repository methods accept context.Context. The context is honoured
// between retry attempts and while waiting for offloaded encryption, not in
// the middle of a transaction.
package storage
