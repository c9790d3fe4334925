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
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docvault/core"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// SaltSize is the length of generated KDF salts.
	SaltSize = 16

	// MinIterations is the lowest accepted PBKDF2 iteration count.
	MinIterations = 100_000

	// DefaultIterations is the PBKDF2 iteration count used unless overridden.
	DefaultIterations = 210_000
)

// ErrInvalidIterations is returned for iteration counts below MinIterations.
var ErrInvalidIterations = errors.New("kdf iterations below minimum")

// Manager owns the lifecycle of the symmetric key. Every generated or
// derived key is persisted in the Store under the device fingerprint.
type Manager struct {
	mu           sync.RWMutex
	genMu        sync.Mutex
	key          []byte
	store        Store
	fingerprint  string
	iterations   int
	autoGenerate bool
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithStore sets the persistent key store.
func WithStore(s Store) Option {
	return func(m *Manager) error {
		if s == nil {
			return errors.New("key store cannot be nil")
		}
		m.store = s
		return nil
	}
}

// WithFingerprint overrides the device fingerprint.
func WithFingerprint(fp string) Option {
	return func(m *Manager) error {
		if fp == "" {
			return errors.New("fingerprint cannot be empty")
		}
		m.fingerprint = fp
		return nil
	}
}

// WithIterations sets the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(m *Manager) error {
		if n < MinIterations {
			return fmt.Errorf("%w: %d < %d", ErrInvalidIterations, n, MinIterations)
		}
		m.iterations = n
		return nil
	}
}

// WithAutoGenerate controls whether KeyForWrite generates a key when none exists.
func WithAutoGenerate(enabled bool) Option {
	return func(m *Manager) error {
		m.autoGenerate = enabled
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// NewManager creates a Manager. Without options it keeps keys in memory,
// uses the host fingerprint and auto-generates a key on first write.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		iterations:   DefaultIterations,
		autoGenerate: true,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.fingerprint == "" {
		m.fingerprint = Fingerprint()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Fingerprint returns the device fingerprint the key is bound to.
func (m *Manager) Fingerprint() string {
	return m.fingerprint
}

// GenerateKey creates and persists a fresh random key.
func (m *Manager) GenerateKey(ctx context.Context) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrKeyDerivation, err)
	}
	material := &Material{
		Key:       key,
		Source:    SourceGenerated,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.install(ctx, material); err != nil {
		return nil, err
	}
	m.logger.Info("generated encryption key", "fingerprint", m.fingerprint)
	return clone(key), nil
}

// DeriveKey derives a key from passphrase with PBKDF2-HMAC-SHA256 and
// persists it. A random salt is generated when salt is nil. The same
// passphrase and salt always produce the same key.
func (m *Manager) DeriveKey(ctx context.Context, passphrase string, salt []byte) (key, usedSalt []byte, err error) {
	if passphrase == "" {
		return nil, nil, fmt.Errorf("%w: empty passphrase", core.ErrKeyDerivation)
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", core.ErrKeyDerivation, err)
		}
	}
	key = pbkdf2.Key([]byte(passphrase), salt, m.iterations, KeySize, sha256.New)

	material := &Material{
		Key:        key,
		Salt:       clone(salt),
		Iterations: m.iterations,
		Source:     SourceDerived,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.install(ctx, material); err != nil {
		return nil, nil, err
	}
	m.logger.Info("derived encryption key", "fingerprint", m.fingerprint, "iterations", m.iterations)
	return clone(key), clone(salt), nil
}

// install persists material and makes its key current.
func (m *Manager) install(ctx context.Context, material *Material) error {
	if err := m.store.Save(ctx, m.fingerprint, material); err != nil {
		return fmt.Errorf("%w: persist key: %w", core.ErrKeyDerivation, err)
	}
	m.mu.Lock()
	zero(m.key)
	m.key = clone(material.Key)
	m.mu.Unlock()
	return nil
}

// LoadKey loads the persisted key for this device into memory.
// Returns nil, nil when no key has been persisted.
func (m *Manager) LoadKey(ctx context.Context) ([]byte, error) {
	material, err := m.store.Load(ctx, m.fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	if material == nil {
		return nil, nil
	}
	if len(material.Key) != KeySize {
		return nil, fmt.Errorf("%w: persisted key has %d bytes", core.ErrKeyDerivation, len(material.Key))
	}
	m.mu.Lock()
	zero(m.key)
	m.key = clone(material.Key)
	m.mu.Unlock()
	return clone(material.Key), nil
}

// GetKey returns a copy of the in-memory key, or nil.
func (m *Manager) GetKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return nil
	}
	return clone(m.key)
}

// ClearKey zeroes the in-memory key and removes persisted material.
func (m *Manager) ClearKey(ctx context.Context) error {
	m.mu.Lock()
	zero(m.key)
	m.key = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, m.fingerprint); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	m.logger.Info("cleared encryption key", "fingerprint", m.fingerprint)
	return nil
}

// KeyForRead resolves the key from memory, then from the store.
func (m *Manager) KeyForRead(ctx context.Context) ([]byte, error) {
	if key := m.GetKey(); key != nil {
		return key, nil
	}
	key, err := m.LoadKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, core.ErrKeyMissing
	}
	return key, nil
}

// KeyForWrite resolves the key like KeyForRead and, when auto-generation
// is enabled, generates one if none exists. Concurrent first writes share
// a single generated key.
func (m *Manager) KeyForWrite(ctx context.Context) ([]byte, error) {
	key, err := m.KeyForRead(ctx)
	if err == nil || !errors.Is(err, core.ErrKeyMissing) || !m.autoGenerate {
		return key, err
	}

	m.genMu.Lock()
	defer m.genMu.Unlock()
	if key := m.GetKey(); key != nil {
		return key, nil
	}
	return m.GenerateKey(ctx)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
