package docvault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/docvault/keys"
	"github.com/poiesic/docvault/sharding"
	"github.com/poiesic/docvault/storage/badger"
	"gopkg.in/yaml.v2"
)

// Config holds the tunables of a Storage. Zero numeric and string fields
// are replaced by DefaultConfig values in New; flags are taken as given, so
// start from DefaultConfig.
type Config struct {
	// DataDir is the database directory. Ignored when InMemory is set.
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
	// MemoryQuota is the storage total reported for in-memory databases.
	MemoryQuota int64 `yaml:"memory_quota"`

	// KeyDir holds persisted key material. Empty keeps keys in memory.
	KeyDir          string `yaml:"key_dir"`
	KDFIterations   int    `yaml:"kdf_iterations"`
	AutoGenerateKey bool   `yaml:"auto_generate_key"`

	CacheMaxItems        int           `yaml:"cache_max_items"`
	CacheMaxBytes        int64         `yaml:"cache_max_bytes"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`

	ShardSize      int `yaml:"shard_size"`
	ShardThreshold int `yaml:"shard_threshold"`

	// WorkerPoolSize sizes the encryption pool. Zero means half the CPUs.
	WorkerPoolSize int  `yaml:"worker_pool_size"`
	InlineCrypto   bool `yaml:"inline_crypto"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// AutoVersion appends a history version after every payload update.
	AutoVersion bool `yaml:"auto_version"`
	// SeedTemplates creates the built-in templates on first initialization.
	SeedTemplates bool `yaml:"seed_templates"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		DataDir:              "docvault-data",
		MemoryQuota:          256 << 20,
		KDFIterations:        keys.DefaultIterations,
		AutoGenerateKey:      true,
		CacheMaxItems:        100,
		CacheMaxBytes:        50 << 20,
		CacheCleanupInterval: time.Minute,
		ShardSize:            sharding.DefaultSize,
		ShardThreshold:       badger.DefaultShardThreshold,
		MaxRetries:           3,
		RetryBaseDelay:       10 * time.Millisecond,
		AutoVersion:          true,
		SeedTemplates:        true,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	var errs []error
	if !c.InMemory && c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required unless in_memory is set"))
	}
	if c.KDFIterations != 0 && c.KDFIterations < keys.MinIterations {
		errs = append(errs, fmt.Errorf("kdf_iterations must be at least %d", keys.MinIterations))
	}
	if c.CacheMaxItems < 0 || c.CacheMaxBytes < 0 {
		errs = append(errs, errors.New("cache bounds must not be negative"))
	}
	if c.CacheCleanupInterval < 0 {
		errs = append(errs, errors.New("cache_cleanup_interval must not be negative"))
	}
	if c.ShardSize < 0 || c.ShardThreshold < 0 {
		errs = append(errs, errors.New("shard settings must not be negative"))
	}
	if c.WorkerPoolSize < 0 {
		errs = append(errs, errors.New("worker_pool_size must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.MemoryQuota == 0 {
		c.MemoryQuota = d.MemoryQuota
	}
	if c.KDFIterations == 0 {
		c.KDFIterations = d.KDFIterations
	}
	if c.CacheMaxItems == 0 {
		c.CacheMaxItems = d.CacheMaxItems
	}
	if c.CacheMaxBytes == 0 {
		c.CacheMaxBytes = d.CacheMaxBytes
	}
	if c.CacheCleanupInterval == 0 {
		c.CacheCleanupInterval = d.CacheCleanupInterval
	}
	if c.ShardSize == 0 {
		c.ShardSize = d.ShardSize
	}
	if c.ShardThreshold == 0 {
		c.ShardThreshold = d.ShardThreshold
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	return c
}

// Option configures a Storage.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	keyStore    keys.Store
	fingerprint string
	now         func() time.Time
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithKeyStore overrides the key store selected by Config.KeyDir.
func WithKeyStore(store keys.Store) Option {
	return func(o *options) {
		o.keyStore = store
	}
}

// WithFingerprint binds keys to fp instead of the host fingerprint.
func WithFingerprint(fp string) Option {
	return func(o *options) {
		o.fingerprint = fp
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
