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


// Package docvault is a client-resident store for encrypted, versioned
// documents. A Storage composes the key manager, the encryption service,
// the BadgerDB repositories and an LRU cache behind one operation surface.
package docvault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docvault/cache"
	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/encryption"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/keys"
	"github.com/poiesic/docvault/storage/badger"
	"golang.org/x/sync/singleflight"
)

// cacheHighWater is the cache usage percentage above which the cleanup
// ticker evicts half of the entries.
const cacheHighWater = 80.0

// Error is returned by every failing Storage operation. It unwraps to the
// underlying cause, so errors.Is works against the core sentinels.
type Error struct {
	Op   string
	ID   string
	Kind core.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Storage is the document store facade. Create one per process with New
// and call Initialize before any other operation.
type Storage struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	events  *events.Emitter
	keys    *keys.Manager
	backend *badger.Backend

	works     *cache.LRU[string, *core.Document]
	templates *cache.LRU[string, *core.Template]

	initGroup singleflight.Group

	mu          sync.RWMutex
	cipher      *encryption.Service
	repos       *badger.Repositories
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// New creates a Storage. Nothing is opened until Initialize.
func New(cfg Config, opts ...Option) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}

	store := o.keyStore
	if store == nil {
		if cfg.KeyDir != "" {
			fs, err := keys.NewFileStore(cfg.KeyDir)
			if err != nil {
				return nil, err
			}
			store = fs
		} else {
			store = keys.NewMemoryStore()
		}
	}
	keyOpts := []keys.Option{
		keys.WithStore(store),
		keys.WithIterations(cfg.KDFIterations),
		keys.WithAutoGenerate(cfg.AutoGenerateKey),
		keys.WithLogger(o.logger),
	}
	if o.fingerprint != "" {
		keyOpts = append(keyOpts, keys.WithFingerprint(o.fingerprint))
	}
	manager, err := keys.NewManager(keyOpts...)
	if err != nil {
		return nil, err
	}

	return &Storage{
		cfg:    cfg,
		logger: o.logger,
		now:    o.now,
		events: events.NewEmitter(o.logger),
		keys:   manager,
		backend: badger.NewBackend(badger.BackendConfig{
			Path:           cfg.DataDir,
			InMemory:       cfg.InMemory,
			MemoryQuota:    cfg.MemoryQuota,
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
			Logger:         o.logger,
		}),
		works: cache.New(
			cache.WithMaxItems[string, *core.Document](cfg.CacheMaxItems),
			cache.WithMaxBytes[string, *core.Document](cfg.CacheMaxBytes/2),
		),
		templates: cache.New(
			cache.WithMaxItems[string, *core.Template](cfg.CacheMaxItems),
			cache.WithMaxBytes[string, *core.Template](cfg.CacheMaxBytes/2),
		),
	}, nil
}

// Initialize opens the database, loads the persisted key and seeds the
// built-in templates. Concurrent callers share one initialization and see
// the same result; calling it again after success is a no-op.
func (s *Storage) Initialize(ctx context.Context) error {
	if s.IsInitialized() {
		return nil
	}
	_, err, _ := s.initGroup.Do("initialize", func() (any, error) {
		if s.IsInitialized() {
			return nil, nil
		}
		return nil, s.initialize(ctx)
	})
	if err != nil {
		return s.fail("initialize", "", err)
	}
	return nil
}

func (s *Storage) initialize(ctx context.Context) error {
	cipherOpts := []encryption.Option{encryption.WithLogger(s.logger)}
	switch {
	case s.cfg.InlineCrypto:
		cipherOpts = append(cipherOpts, encryption.WithInline())
	case s.cfg.WorkerPoolSize > 0:
		cipherOpts = append(cipherOpts, encryption.WithPoolSize(s.cfg.WorkerPoolSize))
	}
	cipher, err := encryption.NewService(cipherOpts...)
	if err != nil {
		return fmt.Errorf("encryption service: %w", err)
	}

	if err := s.backend.Initialize(ctx); err != nil {
		cipher.Release()
		return err
	}
	if _, err := s.keys.LoadKey(ctx); err != nil {
		cipher.Release()
		s.backend.Close()
		return err
	}

	repos, err := badger.NewRepositories(s.backend, badger.Deps{
		Keys:           s.keys,
		Cipher:         cipher,
		Events:         s.events,
		Logger:         s.logger,
		ShardSize:      s.cfg.ShardSize,
		ShardThreshold: s.cfg.ShardThreshold,
		Now:            s.now,
	})
	if err != nil {
		cipher.Release()
		s.backend.Close()
		return err
	}

	if s.cfg.SeedTemplates {
		if err := seedTemplates(ctx, repos.Templates, s.keys, s.logger); err != nil {
			cipher.Release()
			s.backend.Close()
			return fmt.Errorf("seed templates: %w", err)
		}
	}

	s.mu.Lock()
	s.cipher = cipher
	s.repos = repos
	s.mu.Unlock()
	s.startCleanup()

	s.logger.Info("storage initialized",
		"path", s.cfg.DataDir,
		"inMemory", s.cfg.InMemory,
		"crypto", cipher.Mode(),
		"fingerprint", s.keys.Fingerprint())
	s.events.Emit(events.Event{Kind: events.StorageInitialized})
	return nil
}

// IsInitialized reports whether Initialize has completed.
func (s *Storage) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repos != nil
}

// repositories returns the repositories or core.ErrNotInitialized.
func (s *Storage) repositories() (*badger.Repositories, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.repos == nil {
		return nil, core.ErrNotInitialized
	}
	return s.repos, nil
}

// shutdown stops the cleanup ticker and the encryption pool, clears the
// caches and marks the storage uninitialized. The backend is left to the
// caller.
func (s *Storage) shutdown() {
	s.mu.Lock()
	stop, done := s.stopCleanup, s.cleanupDone
	cipher := s.cipher
	s.stopCleanup, s.cleanupDone = nil, nil
	s.cipher = nil
	s.repos = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if cipher != nil {
		cipher.Release()
	}
	s.ClearCache()
}

// Close stops background work, closes the database and clears the caches.
// Closing an uninitialized storage is a no-op.
func (s *Storage) Close() error {
	s.shutdown()
	if err := s.backend.Close(); err != nil {
		return s.fail("close", "", err)
	}
	s.logger.Debug("storage closed")
	return nil
}

// DeleteDatabase closes the storage and irreversibly drops every stored
// record. Initialize must be called again before further use. Key material
// is kept.
func (s *Storage) DeleteDatabase(ctx context.Context) error {
	s.shutdown()
	if err := s.backend.DeleteDatabase(ctx); err != nil {
		return s.fail("delete database", "", err)
	}
	return nil
}

// Subscribe registers handler for events of kind and returns the function
// that removes it.
func (s *Storage) Subscribe(kind events.Kind, handler events.Handler) func() {
	return s.events.Subscribe(kind, handler)
}

// GetStorageUsage reports the bytes used by the database.
func (s *Storage) GetStorageUsage(ctx context.Context) (core.StorageUsage, error) {
	if _, err := s.repositories(); err != nil {
		return core.StorageUsage{}, s.fail("storage usage", "", err)
	}
	usage, err := s.backend.GetStorageUsage(ctx)
	if err != nil {
		return core.StorageUsage{}, s.fail("storage usage", "", err)
	}
	return usage, nil
}

// GetCacheUsage reports the combined accounting of the document caches.
func (s *Storage) GetCacheUsage() core.MemoryUsage {
	w, t := s.works.MemoryUsage(), s.templates.MemoryUsage()
	usage := core.MemoryUsage{Current: w.Current + t.Current, Max: w.Max + t.Max}
	if usage.Max > 0 {
		usage.Percentage = float64(usage.Current) / float64(usage.Max) * 100
	}
	return usage
}

// ClearCache empties the document caches.
func (s *Storage) ClearCache() {
	s.works.Clear()
	s.templates.Clear()
}

// Backup writes an xz-compressed dump of the database to w and returns the
// version the dump covers.
func (s *Storage) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if _, err := s.repositories(); err != nil {
		return 0, s.fail("backup", "", err)
	}
	since, err := s.backend.Backup(ctx, w)
	if err != nil {
		return 0, s.fail("backup", "", err)
	}
	s.logger.Info("backup written", "version", since)
	return since, nil
}

// RestoreBackup replaces the database contents with a dump produced by
// Backup and clears the caches.
func (s *Storage) RestoreBackup(ctx context.Context, r io.Reader) error {
	if _, err := s.repositories(); err != nil {
		return s.fail("restore backup", "", err)
	}
	if err := s.backend.Restore(ctx, r); err != nil {
		return s.fail("restore backup", "", err)
	}
	s.ClearCache()
	s.logger.Info("backup restored")
	return nil
}

// startCleanup runs the cache cleanup ticker until shutdown.
func (s *Storage) startCleanup() {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.stopCleanup, s.cleanupDone = stop, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.CacheCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.cleanupCache()
			}
		}
	}()
}

// cleanupCache evicts the older half of any cache above the high-water
// mark and returns the number of evicted entries.
func (s *Storage) cleanupCache() int {
	evicted := 0
	if s.works.MemoryUsage().Percentage > cacheHighWater {
		evicted += s.works.EvictOldest(s.works.Len() / 2)
	}
	if s.templates.MemoryUsage().Percentage > cacheHighWater {
		evicted += s.templates.EvictOldest(s.templates.Len() / 2)
	}
	if evicted > 0 {
		s.logger.Debug("cache cleanup", "evicted", evicted)
	}
	return evicted
}

// fail logs err, emits an error event and returns it wrapped in *Error.
func (s *Storage) fail(op, id string, err error) error {
	kind := core.KindOf(err)
	level := slog.LevelError
	switch kind {
	case core.KindNotFound, core.KindValidation, core.KindReadOnly:
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "storage operation failed",
		"op", op, "id", id, "kind", kind, "error", err)
	s.events.Emit(events.Event{
		Kind:    events.Error,
		ID:      id,
		Err:     err,
		ErrKind: kind,
		Data:    map[string]any{"op": op},
	})
	return &Error{Op: op, ID: id, Kind: kind, Err: err}
}

// emit sends a lifecycle event for id.
func (s *Storage) emit(kind events.Kind, id string, data map[string]any) {
	s.events.Emit(events.Event{Kind: kind, ID: id, Data: data})
}
