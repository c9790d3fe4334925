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


package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Source records how persisted key material was produced.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceDerived   Source = "derived"
)

// Material is the persisted form of a key.
type Material struct {
	Key        []byte    `json:"key"`
	Salt       []byte    `json:"salt,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists key material bound to a device fingerprint.
type Store interface {
	// Save replaces the material stored for fingerprint.
	Save(ctx context.Context, fingerprint string, m *Material) error

	// Load returns the material stored for fingerprint, or nil, nil when none exists.
	Load(ctx context.Context, fingerprint string) (*Material, error)

	// Delete removes the material stored for fingerprint. Deleting missing
	// material is not an error.
	Delete(ctx context.Context, fingerprint string) error
}

const lockFileName = ".keys.lock"

// FileStore keeps one JSON file per fingerprint in a directory. Access from
// multiple processes is serialized with an advisory file lock.
type FileStore struct {
	dir  string
	lock *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

func (s *FileStore) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".key")
}

// Save writes the material to a temp file and renames it into place.
func (s *FileStore) Save(ctx context.Context, fingerprint string, m *Material) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock key store: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(fingerprint))
}

// Load reads the material for fingerprint.
func (s *FileStore) Load(ctx context.Context, fingerprint string) (*Material, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock key store: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var m Material
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	return &m, nil
}

// Delete removes the key file for fingerprint.
func (s *FileStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock key store: %w", err)
	}
	defer s.lock.Unlock()

	err := os.Remove(s.path(fingerprint))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryStore is a Store for tests and in-memory databases.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Material
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Material)}
}

func (s *MemoryStore) Save(ctx context.Context, fingerprint string, m *Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Key = append([]byte(nil), m.Key...)
	cp.Salt = append([]byte(nil), m.Salt...)
	s.items[fingerprint] = cp
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, fingerprint string) (*Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[fingerprint]
	if !ok {
		return nil, nil
	}
	m.Key = append([]byte(nil), m.Key...)
	m.Salt = append([]byte(nil), m.Salt...)
	return &m, nil
}

func (s *MemoryStore) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.items[fingerprint]; ok {
		zero(m.Key)
		delete(s.items, fingerprint)
	}
	return nil
}
