package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/buildflow/internal/archive"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/events"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/internal/lock"
	"github.com/kode4food/buildflow/internal/store"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// Engine executes flow runs and retains their records
	Engine struct {
		ctx      context.Context
		cancel   context.CancelFunc
		resolver job.Resolver
		store    store.RunStore
		archiver archive.Archiver
		hub      *events.Hub
		locks    *lock.Registry
		config   *config.Config
		runs     sync.Map // map[api.RunID]*flow.Run
		wg       sync.WaitGroup
		mu       sync.RWMutex
		stopped  atomic.Bool
	}

	// Dependencies are the collaborators an Engine is built from. Archiver
	// is optional
	Dependencies struct {
		Resolver job.Resolver
		Store    store.RunStore
		Archiver archive.Archiver
		Hub      *events.Hub
	}
)

// persistTimeout bounds saving and archiving one finished run
const persistTimeout = 30 * time.Second

var (
	ErrMissingDependency = errors.New("missing engine dependency")
	ErrShutdownTimeout   = errors.New("shutdown timeout exceeded")
	ErrEngineStopped     = errors.New("engine is stopped")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunNotActive      = errors.New("run is not active")
	ErrStoreUnavailable  = errors.New("run store unavailable")
)

// New creates an engine from a validated configuration and its
// dependencies
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:      ctx,
		cancel:   cancel,
		resolver: deps.Resolver,
		store:    deps.Store,
		archiver: deps.Archiver,
		hub:      deps.Hub,
		config:   cfg,
	}
	e.locks = lock.NewRegistry(
		lock.WithPollInterval(cfg.LockPollInterval),
		lock.WithReclaimHandler(e.resourceReclaimed),
	)
	return e, nil
}

// Start checks that the run store is reachable
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("Engine starting",
		log.Node(e.config.NodeName))

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Stop refuses new runs, aborts the active ones and waits for them to be
// persisted, up to the configured shutdown timeout
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.stopped.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		slog.Error("Engine shutdown timed out",
			slog.Int("active_runs", e.ActiveRuns()))
		return ErrShutdownTimeout
	}
}

// Health reports whether the engine can accept and persist runs
func (e *Engine) Health(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Hub returns the hub run events are published to
func (e *Engine) Hub() *events.Hub {
	return e.hub
}

// Node returns the default execution node of the engine
func (e *Engine) Node() api.NodeID {
	return e.config.NodeName
}

func (d *Dependencies) validate() error {
	switch {
	case d.Resolver == nil:
		return fmt.Errorf("%w: job resolver", ErrMissingDependency)
	case d.Store == nil:
		return fmt.Errorf("%w: run store", ErrMissingDependency)
	case d.Hub == nil:
		return fmt.Errorf("%w: event hub", ErrMissingDependency)
	default:
		return nil
	}
}
