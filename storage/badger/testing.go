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


package badger

import (
	"github.com/poiesic/docvault/encryption"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/keys"
)

// TestRepositories are in-memory repositories with their collaborators.
type TestRepositories struct {
	*Repositories
	Deps Deps
}

// Close releases the encryption pool and closes the backend.
func (r *TestRepositories) Close() error {
	r.Deps.Cipher.Release()
	return r.Backend.Close()
}

// NewMemoryRepositories creates repositories over an in-memory backend for
// testing. Keys live in a keys.MemoryStore and are generated on first write;
// encryption runs inline. configure may adjust the dependencies before the
// repositories are built. Caller must Close the result.
func NewMemoryRepositories(configure ...func(*Deps)) (*TestRepositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	manager, err := keys.NewManager(keys.WithStore(keys.NewMemoryStore()), keys.WithFingerprint("test"))
	if err != nil {
		backend.Close()
		return nil, err
	}
	cipher, err := encryption.NewService(encryption.WithInline())
	if err != nil {
		backend.Close()
		return nil, err
	}

	deps := Deps{
		Keys:   manager,
		Cipher: cipher,
		Events: events.NewEmitter(nil),
	}
	for _, fn := range configure {
		fn(&deps)
	}
	deps = deps.withDefaults()

	repos, err := NewRepositories(backend, deps)
	if err != nil {
		cipher.Release()
		backend.Close()
		return nil, err
	}
	return &TestRepositories{Repositories: repos, Deps: deps}, nil
}
