package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/docvault/core"
	"github.com/shirou/gopsutil/disk"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 10 * time.Millisecond
	defaultMemoryQuota    = 256 << 20
)

// BackendConfig configures a Backend.
type BackendConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all data in memory.
	InMemory bool
	// MemoryQuota is reported as the storage total for in-memory databases.
	MemoryQuota int64
	// MaxRetries bounds retries of transient transaction failures.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration
	// Logger receives backend and BadgerDB logs. Default is slog.Default().
	Logger *slog.Logger
}

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	cfg       BackendConfig
	mu        sync.RWMutex
	db        *badger.DB
	initGroup singleflight.Group
	logger    *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewBackend creates a Backend. The database is opened by Initialize.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.MemoryQuota <= 0 {
		cfg.MemoryQuota = defaultMemoryQuota
	}
	return &Backend{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	b := NewBackend(BackendConfig{Path: filePath, InMemory: inMemory})
	if err := b.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

// Initialize opens the database and applies pending schema migrations.
// Concurrent callers share one initialization; calling it on an open
// backend is a no-op.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.IsOpen() {
		return nil
	}
	_, err, shared := b.initGroup.Do("initialize", func() (any, error) {
		if b.IsOpen() {
			return nil, nil
		}
		db, err := b.open()
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.db = db
		b.mu.Unlock()

		if err := b.migrate(ctx); err != nil {
			b.Close()
			return nil, err
		}
		return nil, nil
	})
	if shared {
		b.logger.Debug("joined in-flight initialization")
	}
	return err
}

func (b *Backend) open() (*badger.DB, error) {
	var opts badger.Options

	if b.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(b.cfg.Path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(b.cfg.Path, 0700); err != nil {
				return nil, err
			}
			info, err = os.Stat(b.cfg.Path)
			if err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", b.cfg.Path)
		}
		opts = badger.DefaultOptions(b.cfg.Path)
	}

	opts.Logger = &badgerLoggerAdapter{logger: b.logger}
	// Payloads are ciphertext and do not compress
	opts.Compression = options.None

	return badger.Open(opts)
}

// database returns the open DB or core.ErrNotInitialized.
func (b *Backend) database() (*badger.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil || b.db.IsClosed() {
		return nil, core.ErrNotInitialized
	}
	return b.db, nil
}

// Close closes the BadgerDB database. Closing a closed backend is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// IsOpen returns true if the database is open.
func (b *Backend) IsOpen() bool {
	_, err := b.database()
	return err == nil
}

// InMemory reports whether the backend keeps data in memory only.
func (b *Backend) InMemory() bool {
	return b.cfg.InMemory
}

// GetStorageUsage reports the bytes used by the database against the
// capacity of the disk holding it, or against the memory quota for
// in-memory databases.
func (b *Backend) GetStorageUsage(ctx context.Context) (core.StorageUsage, error) {
	db, err := b.database()
	if err != nil {
		return core.StorageUsage{}, err
	}
	lsm, vlog := db.Size()
	usage := core.StorageUsage{Used: lsm + vlog}

	if b.cfg.InMemory {
		usage.Total = b.cfg.MemoryQuota
	} else {
		stat, err := disk.Usage(b.cfg.Path)
		if err != nil {
			return core.StorageUsage{}, fmt.Errorf("disk usage: %w", err)
		}
		usage.Total = int64(stat.Total)
	}
	if usage.Total > 0 {
		usage.Percentage = float64(usage.Used) / float64(usage.Total) * 100
	}
	return usage, nil
}

// DeleteDatabase irreversibly drops all data, closes the database and
// removes its directory. The backend must be initialized again before use.
func (b *Backend) DeleteDatabase(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		if err := b.db.DropAll(); err != nil {
			return fmt.Errorf("drop all: %w", err)
		}
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	if !b.cfg.InMemory && b.cfg.Path != "" {
		if err := os.RemoveAll(b.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	b.logger.Info("database deleted", "path", b.cfg.Path, "inMemory", b.cfg.InMemory)
	return nil
}
