// Package config describes the external configuration surface a
// CredentialManager is built from. Grounded on pkg/auth/config.go's
// Config/DefaultConfig nested-struct shape, retargeted from token-storage
// knobs to the manager's store/cache/lock/negative_cache/master_key_source
// components, and serialized with gopkg.in/yaml.v3 instead of JSON struct
// tags since operators hand-edit these files.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/cache"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/kms"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/lock"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/negcache"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/store"
)

// Config is the top-level configuration for a CredentialManager.
type Config struct {
	// MasterKeySource selects how the data-encryption key is resolved:
	// inline (a literal passphrase, discouraged outside tests), env (read
	// from an environment variable), or a gocloud.dev/secrets Keeper URL.
	MasterKeySource MasterKeySourceConfig `yaml:"master_key_source"`

	RefreshPolicy RefreshPolicyConfig `yaml:"refresh_policy"`
	Cache         CacheConfig         `yaml:"cache"`
	Lock          LockConfig          `yaml:"lock"`
	NegativeCache NegativeCacheConfig `yaml:"negative_cache"`
	Store         StoreConfig         `yaml:"store"`
}

// MasterKeySourceConfig selects and parameterizes the KeySource.
type MasterKeySourceConfig struct {
	// Kind is one of "inline", "env", "keeper".
	Kind string `yaml:"kind"`

	// InlinePassphrase is used when Kind == "inline".
	InlinePassphrase string `yaml:"inline_passphrase,omitempty"`

	// EnvVar names the environment variable holding the passphrase when
	// Kind == "env".
	EnvVar string `yaml:"env_var,omitempty"`

	// KeeperURL is a gocloud.dev/secrets Keeper URL used when
	// Kind == "keeper". kms registers only "base64key://..."; other schemes
	// (e.g. "awskms://...") need their gocloud.dev/secrets driver imported.
	KeeperURL string `yaml:"keeper_url,omitempty"`

	// Salt, if non-empty, is used verbatim as the PBKDF2 salt instead of
	// one derived from the secret itself.
	Salt string `yaml:"salt,omitempty"`
}

// RefreshPolicyConfig mirrors credential.RefreshPolicy for serialization.
type RefreshPolicyConfig struct {
	EarlyRefreshFraction float64        `yaml:"early_refresh_fraction"`
	MinimumSkew          time.Duration  `yaml:"minimum_skew"`
	MaximumLifetime      *time.Duration `yaml:"maximum_lifetime,omitempty"`
}

// CacheConfig selects and parameterizes the TokenCache tiers.
type CacheConfig struct {
	// L1 is always an in-process LRU+TTL cache.
	L1 LRUCacheConfig `yaml:"l1"`

	// L2 is optional; when Enabled, a Redis-backed tier backs the L1 miss
	// path (cache-aside).
	L2 RedisCacheConfig `yaml:"l2"`
}

// LRUCacheConfig configures the in-process L1 tier.
type LRUCacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// RedisCacheConfig configures the optional L2 tier.
type RedisCacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// LockConfig selects and parameterizes the DistributedLock backend.
type LockConfig struct {
	// Backend is one of "memory", "redis", "postgres".
	Backend string `yaml:"backend"`

	DefaultTTL        time.Duration `yaml:"default_ttl"`
	DefaultWaitBudget time.Duration `yaml:"default_wait_budget"`

	Redis    RedisLockConfig    `yaml:"redis,omitempty"`
	Postgres PostgresLockConfig `yaml:"postgres,omitempty"`
}

// RedisLockConfig configures the Redis SET-NX-PX lock backend.
type RedisLockConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresLockConfig configures the pg_advisory_lock backend.
type PostgresLockConfig struct {
	DSN string `yaml:"dsn"`
}

// NegativeCacheConfig configures the failure-memoization layer.
type NegativeCacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// StoreConfig selects and parameterizes the StateStore backend.
type StoreConfig struct {
	// Backend is one of "memory", "file".
	Backend string `yaml:"backend"`

	File FileStoreConfig `yaml:"file,omitempty"`
}

// FileStoreConfig configures the on-disk StateStore backend.
type FileStoreConfig struct {
	Directory            string `yaml:"directory"`
	FilePermissions      string `yaml:"file_permissions"`
	DirectoryPermissions string `yaml:"directory_permissions"`
}

// Default returns a Config suitable for local development: in-memory store,
// in-process-only cache, in-process lock, and an inline master key. None of
// these defaults are appropriate for production use, matching
// pkg/auth/config.go's DefaultConfig which documents the same caveat for its
// file-backed default.
func Default() *Config {
	return &Config{
		MasterKeySource: MasterKeySourceConfig{
			Kind:             "inline",
			InlinePassphrase: "development-only-change-me",
		},
		RefreshPolicy: RefreshPolicyConfig{
			EarlyRefreshFraction: 0,
			MinimumSkew:          5 * time.Minute,
		},
		Cache: CacheConfig{
			L1: LRUCacheConfig{
				MaxEntries: 1000,
				DefaultTTL: 5 * time.Minute,
			},
		},
		Lock: LockConfig{
			Backend:           "memory",
			DefaultTTL:        30 * time.Second,
			DefaultWaitBudget: 10 * time.Second,
		},
		NegativeCache: NegativeCacheConfig{
			MaxEntries: 1000,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
	}
}

// Load reads path as YAML and overlays it onto Default(), so a config file
// only needs to set the fields it wants to override. Grounded on
// GoCodeAlone-workflow/platform/config.go's ParsePlatformConfig, which
// re-marshals a raw map through yaml.Unmarshal and then runs applyDefaults;
// here the defaults are applied first and YAML unmarshals on top, since
// Config has no raw-map intermediate to re-marshal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Resources bundles the CredentialManager Build produces with the
// underlying I/O handles (Redis clients, a *sql.DB) it opened on the
// caller's behalf, so the caller has one thing to Close on shutdown.
type Resources struct {
	Manager *credential.Manager
	closers []func() error
}

// Close releases every handle Build opened, in the order they were opened,
// returning the first error encountered.
func (r *Resources) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build constructs a CredentialManager from cfg: it resolves the master
// key, opens the configured StateStore/TokenCache/DistributedLock
// backends, and wires them together with registry (the set of Credential
// types the caller has already registered — Build has no opinion on which
// credential types exist). pgDB is only consulted when Lock.Backend or a
// future Store.Backend is "postgres"; pass nil otherwise.
func Build(ctx context.Context, cfg *Config, registry *credential.Registry, pgDB *sql.DB) (*Resources, error) {
	res := &Resources{}

	sealer, err := buildSealer(ctx, cfg.MasterKeySource)
	if err != nil {
		return nil, err
	}

	stateStore, err := buildStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	tokenCache, closeCache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if closeCache != nil {
		res.closers = append(res.closers, closeCache)
	}

	distLock, closeLock, err := buildLock(cfg.Lock, pgDB)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	if closeLock != nil {
		res.closers = append(res.closers, closeLock)
	}

	negCache := negcache.NewMemory(cfg.NegativeCache.MaxEntries)

	mgrCfg := credential.DefaultManagerConfig()
	mgrCfg.RefreshPolicy = credential.RefreshPolicy{
		EarlyRefreshFraction: cfg.RefreshPolicy.EarlyRefreshFraction,
		MinimumSkew:          cfg.RefreshPolicy.MinimumSkew,
		MaximumLifetime:      cfg.RefreshPolicy.MaximumLifetime,
	}
	if cfg.Lock.DefaultTTL > 0 {
		mgrCfg.LockTTL = cfg.Lock.DefaultTTL
	}
	if cfg.Lock.DefaultWaitBudget > 0 {
		mgrCfg.LockWaitBudget = cfg.Lock.DefaultWaitBudget
	}
	if cfg.Cache.L1.DefaultTTL > 0 {
		mgrCfg.CacheTTLCeiling = cfg.Cache.L1.DefaultTTL
	}

	res.Manager = credential.NewManager(registry, stateStore, tokenCache, negCache, distLock, sealer, mgrCfg)
	return res, nil
}

func buildSealer(ctx context.Context, cfg MasterKeySourceConfig) (credential.Sealer, error) {
	var salt []byte
	if cfg.Salt != "" {
		salt = []byte(cfg.Salt)
	}

	switch cfg.Kind {
	case "inline":
		return kms.NewCipher(kms.FromPassphrase(cfg.InlinePassphrase, salt)), nil
	case "env":
		passphrase := os.Getenv(cfg.EnvVar)
		if passphrase == "" {
			return nil, fmt.Errorf("config: master_key_source.env_var %q is unset or empty", cfg.EnvVar)
		}
		return kms.NewCipher(kms.FromPassphrase(passphrase, salt)), nil
	case "keeper":
		source, err := kms.Open(ctx, cfg.KeeperURL, salt)
		if err != nil {
			return nil, err
		}
		return kms.NewCipher(source), nil
	default:
		return nil, fmt.Errorf("config: unknown master_key_source.kind %q", cfg.Kind)
	}
}

func buildStore(cfg StoreConfig) (credential.StateStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "file":
		filePerm, err := parseFileMode(cfg.File.FilePermissions, 0o600)
		if err != nil {
			return nil, err
		}
		dirPerm, err := parseFileMode(cfg.File.DirectoryPermissions, 0o700)
		if err != nil {
			return nil, err
		}
		return store.NewFile(cfg.File.Directory, filePerm, dirPerm)
	default:
		return nil, fmt.Errorf("config: unknown store.backend %q", cfg.Backend)
	}
}

func buildCache(cfg CacheConfig) (credential.TokenCache, func() error, error) {
	l1 := cache.NewLRU(cfg.L1.MaxEntries, cfg.L1.DefaultTTL)
	if !cfg.L2.Enabled {
		return l1, nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.L2.Addr, DB: cfg.L2.DB})
	l2 := cache.NewRedis(client, cfg.L2.KeyPrefix, cfg.L2.DefaultTTL)
	return cache.NewTiered(l1, l2), client.Close, nil
}

func buildLock(cfg LockConfig, pgDB *sql.DB) (credential.DistributedLock, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return lock.NewMemory(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		return lock.NewRedis(client, cfg.Redis.KeyPrefix), client.Close, nil
	case "postgres":
		if pgDB != nil {
			return lock.NewPostgres(pgDB), nil, nil
		}
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open postgres lock dsn: %w", err)
		}
		return lock.NewPostgres(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown lock.backend %q", cfg.Backend)
	}
}

// parseFileMode parses an octal permission string (e.g. "0600"); an empty
// string yields fallback.
func parseFileMode(s string, fallback os.FileMode) (os.FileMode, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("config: invalid file permissions %q: %w", s, err)
	}
	return os.FileMode(v), nil
}
