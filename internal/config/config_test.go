package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/pkg/api"
)

func TestConfigValidation(t *testing.T) {
	t.Run("valid_default_config", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name      string
		configMod func(*config.Config)
		err       error
	}{
		{
			name: "invalid_api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			err: config.ErrInvalidAPIPort,
		},
		{
			name: "invalid_api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			err: config.ErrInvalidAPIPort,
		},
		{
			name: "invalid_node_name",
			configMod: func(c *config.Config) {
				c.NodeName = "node/1"
			},
			err: config.ErrInvalidNodeName,
		},
		{
			name: "empty_node_name",
			configMod: func(c *config.Config) {
				c.NodeName = ""
			},
			err: config.ErrInvalidNodeName,
		},
		{
			name: "invalid_log_level",
			configMod: func(c *config.Config) {
				c.LogLevel = "verbose"
			},
			err: config.ErrInvalidLogLevel,
		},
		{
			name: "zero_lock_poll",
			configMod: func(c *config.Config) {
				c.LockPollInterval = 0
			},
			err: config.ErrInvalidPollInterval,
		},
		{
			name: "zero_shutdown_timeout",
			configMod: func(c *config.Config) {
				c.ShutdownTimeout = 0
			},
			err: config.ErrInvalidShutdown,
		},
		{
			name: "missing_redis_addr",
			configMod: func(c *config.Config) {
				c.Store.Addr = ""
			},
			err: config.ErrInvalidRedisAddr,
		},
		{
			name: "zero_cache_size",
			configMod: func(c *config.Config) {
				c.Store.CacheSize = 0
			},
			err: config.ErrInvalidCacheSize,
		},
		{
			name: "build_server_not_http",
			configMod: func(c *config.Config) {
				c.BuildServer.URL = "ftp://builds"
			},
			err: config.ErrInvalidBuildServer,
		},
		{
			name: "build_server_zero_poll",
			configMod: func(c *config.Config) {
				c.BuildServer.URL = "http://builds"
				c.BuildServer.PollInterval = 0
			},
			err: config.ErrInvalidBuildPoll,
		},
		{
			name: "build_server_zero_timeout",
			configMod: func(c *config.Config) {
				c.BuildServer.URL = "http://builds"
				c.BuildServer.RequestTimeout = 0
			},
			err: config.ErrInvalidTimeout,
		},
		{
			name: "build_server_no_result_path",
			configMod: func(c *config.Config) {
				c.BuildServer.URL = "https://builds"
				c.BuildServer.ResultPath = ""
			},
			err: config.ErrInvalidResultPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.err)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, "0.0.0.0", cfg.APIHost)
	assert.Equal(t, api.DefaultNode, cfg.NodeName)
	assert.Equal(t, time.Second, cfg.LockPollInterval)
	assert.Equal(t, config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.Store.Addr)
	assert.Equal(t, config.DefaultRedisPrefix, cfg.Store.Prefix)
	assert.Equal(t, config.DefaultRunCacheSize, cfg.Store.CacheSize)
	assert.Empty(t, cfg.Archive.BucketURL)
	assert.Empty(t, cfg.BuildServer.URL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NODE_NAME", "agent-7")
	t.Setenv("LOCK_POLL_INTERVAL", "250")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_PREFIX", "ci")
	t.Setenv("RUN_CACHE_SIZE", "64")
	t.Setenv("ARCHIVE_BUCKET_URL", "mem://")
	t.Setenv("ARCHIVE_PREFIX", "history/")
	t.Setenv("BUILD_SERVER_URL", "http://jenkins:8080")
	t.Setenv("BUILD_SERVER_TOKEN", "token")
	t.Setenv("BUILD_POLL_INTERVAL", "500")
	t.Setenv("BUILD_RESULT_PATH", "build.result")
	t.Setenv("REQUEST_TIMEOUT", "1500")
	t.Setenv("SHUTDOWN_TIMEOUT", "20")

	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.LoadFromEnv())
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.APIHost)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, api.NodeID("agent-7"), cfg.NodeName)
	assert.Equal(t, 250*time.Millisecond, cfg.LockPollInterval)
	assert.Equal(t, "redis:6380", cfg.Store.Addr)
	assert.Equal(t, "secret", cfg.Store.Password)
	assert.Equal(t, 3, cfg.Store.DB)
	assert.Equal(t, "ci", cfg.Store.Prefix)
	assert.Equal(t, 64, cfg.Store.CacheSize)
	assert.Equal(t, "mem://", cfg.Archive.BucketURL)
	assert.Equal(t, "history/", cfg.Archive.Prefix)
	assert.Equal(t, "http://jenkins:8080", cfg.BuildServer.URL)
	assert.Equal(t, "token", cfg.BuildServer.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.BuildServer.PollInterval)
	assert.Equal(t, "build.result", cfg.BuildServer.ResultPath)
	assert.Equal(t, 1500*time.Millisecond, cfg.BuildServer.RequestTimeout)
	assert.Equal(t, 20*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"API_PORT", "not-a-number"},
		{"API_PORT", "70000"},
		{"RUN_CACHE_SIZE", "0"},
		{"LOCK_POLL_INTERVAL", "-5"},
		{"BUILD_POLL_INTERVAL", "abc"},
		{"REQUEST_TIMEOUT", "0"},
		{"SHUTDOWN_TIMEOUT", "999999"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadFromEnvIgnoresBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "bogus")

	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, config.DefaultRedisDB, cfg.Store.DB)
}
