package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kode4food/buildflow/pkg/api"
)

type (
	// Config holds configuration settings for the orchestrator
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Execution node
		NodeName         api.NodeID
		LockPollInterval time.Duration

		// Run history & archiving
		Store   StoreConfig
		Archive ArchiveConfig

		// Remote build system
		BuildServer BuildServerConfig

		// Engine
		ShutdownTimeout time.Duration
	}

	// StoreConfig configures the redis-backed run history
	StoreConfig struct {
		Addr      string
		Password  string
		Prefix    string
		DB        int
		CacheSize int
	}

	// ArchiveConfig configures the blob bucket completed runs are copied to.
	// An empty BucketURL disables archiving
	ArchiveConfig struct {
		BucketURL string
		Prefix    string
	}

	// BuildServerConfig configures the remote build system jobs are
	// scheduled on. An empty URL leaves only in-process jobs available
	BuildServerConfig struct {
		URL            string
		Token          string
		ResultPath     string
		PollInterval   time.Duration
		RequestTimeout time.Duration
	}
)

const (
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultLockPollInterval = time.Second
	DefaultBuildPoll        = 2 * time.Second
	DefaultRequestTimeout   = 30 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "buildflow"
	DefaultRunCacheSize  = 4096
	DefaultResultPath    = "result"
	DefaultArchivePrefix = "runs/"

	MaxRunCacheSize    = 1_000_000
	MaxRedisDB         = 15
	MaxIntervalMillis  = 60 * 60 * 1000
	MaxTimeoutMillis   = 24 * 60 * 60 * 1000
	MaxShutdownSeconds = 60 * 60
)

var (
	ErrInvalidAPIPort      = errors.New("invalid API port")
	ErrInvalidNodeName     = errors.New("invalid node name")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidRedisAddr    = errors.New("redis address is required")
	ErrInvalidBuildServer  = errors.New("invalid build server URL")
	ErrInvalidResultPath   = errors.New("build result path is required")
	ErrInvalidPollInterval = errors.New("lock poll interval must be positive")
	ErrInvalidBuildPoll    = errors.New("build poll interval must be positive")
	ErrInvalidTimeout      = errors.New("request timeout must be positive")
	ErrInvalidShutdown     = errors.New("shutdown timeout must be positive")
	ErrInvalidCacheSize    = errors.New("run cache size must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// API server, run store, and lock allocator
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:          DefaultAPIPort,
		APIHost:          DefaultAPIHost,
		LogLevel:         "info",
		NodeName:         api.DefaultNode,
		LockPollInterval: DefaultLockPollInterval,
		Store: StoreConfig{
			Addr:      DefaultRedisEndpoint,
			Password:  "",
			DB:        DefaultRedisDB,
			Prefix:    DefaultRedisPrefix,
			CacheSize: DefaultRunCacheSize,
		},
		Archive: ArchiveConfig{
			Prefix: DefaultArchivePrefix,
		},
		BuildServer: BuildServerConfig{
			ResultPath:     DefaultResultPath,
			PollInterval:   DefaultBuildPoll,
			RequestTimeout: DefaultRequestTimeout,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.Store)

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if node := os.Getenv("NODE_NAME"); node != "" {
		c.NodeName = api.NodeID(node)
	}
	if url := os.Getenv("ARCHIVE_BUCKET_URL"); url != "" {
		c.Archive.BucketURL = url
	}
	if prefix := os.Getenv("ARCHIVE_PREFIX"); prefix != "" {
		c.Archive.Prefix = prefix
	}
	if url := os.Getenv("BUILD_SERVER_URL"); url != "" {
		c.BuildServer.URL = url
	}
	if token := os.Getenv("BUILD_SERVER_TOKEN"); token != "" {
		c.BuildServer.Token = token
	}
	if path := os.Getenv("BUILD_RESULT_PATH"); path != "" {
		c.BuildServer.ResultPath = path
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RUN_CACHE_SIZE", &c.Store.CacheSize, 0, MaxRunCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"LOCK_POLL_INTERVAL", &c.LockPollInterval, MaxIntervalMillis,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"BUILD_POLL_INTERVAL", &c.BuildServer.PollInterval,
		MaxIntervalMillis,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"REQUEST_TIMEOUT", &c.BuildServer.RequestTimeout, MaxTimeoutMillis,
	); err != nil {
		return err
	}

	var shutdown int
	if err := loadEnvInt(
		"SHUTDOWN_TIMEOUT", &shutdown, 0, MaxShutdownSeconds,
	); err != nil {
		return err
	}
	if shutdown > 0 {
		c.ShutdownTimeout = time.Duration(shutdown) * time.Second
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if !api.IsValidID(c.NodeName) {
		return fmt.Errorf("%w: %q", ErrInvalidNodeName, c.NodeName)
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.LockPollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdown
	}

	if c.Store.Addr == "" {
		return ErrInvalidRedisAddr
	}

	if c.Store.CacheSize <= 0 {
		return ErrInvalidCacheSize
	}

	return c.BuildServer.Validate()
}

// Validate checks the remote build system settings. They are only checked
// when a URL is configured
func (b *BuildServerConfig) Validate() error {
	if b.URL == "" {
		return nil
	}
	if !isHTTPURL(b.URL) {
		return fmt.Errorf("%w: %s", ErrInvalidBuildServer, b.URL)
	}
	if b.PollInterval <= 0 {
		return ErrInvalidBuildPoll
	}
	if b.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if b.ResultPath == "" {
		return ErrInvalidResultPath
	}
	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from the REDIS_*
// environment variables
func LoadStoreConfigFromEnv(s *StoreConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil && db >= 0 && db <= MaxRedisDB {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv("REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
}

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://")
}

// loadEnvMillis reads key as a count of milliseconds and sets *dst if it is
// in the range (0, max]
func loadEnvMillis(key string, dst *time.Duration, max int64) error {
	var ms int64
	if err := loadEnvInt(key, &ms, 0, max); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
