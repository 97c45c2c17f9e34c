package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow/internal/archive"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/engine"
	"github.com/kode4food/buildflow/internal/events"
	"github.com/kode4food/buildflow/internal/store"
	"github.com/kode4food/buildflow/pkg/api"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine  *engine.Engine
	Redis   *miniredis.Miniredis
	Jobs    *MockFacility
	Config  *config.Config
	Hub     *events.Hub
	Store   *store.RedisStore
	Archive *archive.BlobArchiver
	Cleanup func()
}

const (
	testLockPoll        = 10 * time.Millisecond
	testShutdownTimeout = 2 * time.Second
	testCacheSize       = 100
)

// NewTestConfig creates a default configuration with debug logging and
// short polling intervals
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.APIHost = "localhost"
	cfg.LockPollInterval = testLockPoll
	cfg.ShutdownTimeout = testShutdownTimeout
	cfg.Store.Prefix = "test-runs"
	cfg.Store.CacheSize = testCacheSize
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend, an in-memory archive bucket, and scripted jobs
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server := miniredis.RunT(t)

	cfg := NewTestConfig()
	cfg.Store.Addr = server.Addr()
	cfg.Archive.BucketURL = "mem://"

	runs := store.NewRedisStore(cfg.Store)
	arch, err := archive.NewBlobArchiver(
		context.Background(), cfg.Archive.BucketURL, cfg.Archive.Prefix,
	)
	require.NoError(t, err)

	env := &TestEngineEnv{
		Redis:   server,
		Jobs:    NewMockFacility(),
		Config:  cfg,
		Hub:     events.NewHub(),
		Store:   runs,
		Archive: arch,
	}

	env.Engine = env.NewEngineInstance(t)
	env.Cleanup = func() {
		_ = env.Engine.Stop()
		env.Hub.Close()
		_ = arch.Close()
		_ = runs.Close()
	}
	return env
}

// Dependencies returns the collaborators shared by every engine created
// from this environment
func (e *TestEngineEnv) Dependencies() engine.Dependencies {
	return engine.Dependencies{
		Resolver: e.Jobs,
		Store:    e.Store,
		Archiver: e.Archive,
		Hub:      e.Hub,
	}
}

// NewEngineInstance creates another engine sharing the same store, archive,
// and jobs. Used to check what survives a process restart
func (e *TestEngineEnv) NewEngineInstance(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(e.Config, e.Dependencies())
	require.NoError(t, err)
	return eng
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		require.NoError(t, env.Engine.Start(context.Background()))
		fn(env)
	})
}

// WaitForJob fails the test unless a build of the named job starts
func (e *TestEngineEnv) WaitForJob(t *testing.T, name api.JobName) {
	t.Helper()
	require.True(t, e.Jobs.WaitForInvocation(name, DefaultWaitTimeout),
		"job %s was not invoked", name)
}
