package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kode4food/buildflow/internal/archive"
	"github.com/kode4food/buildflow/internal/client"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/engine"
	"github.com/kode4food/buildflow/internal/events"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/internal/server"
	"github.com/kode4food/buildflow/internal/store"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type service struct {
	cfg        *config.Config
	store      *store.RedisStore
	archiver   archive.Archiver
	hub        *events.Hub
	jobs       *job.Registry
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

const noopJob api.JobName = "noop"

var (
	ErrCreateArchive = errors.New("failed to open archive bucket")
	ErrStartEngine   = errors.New("failed to start engine")
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP API",
		Long: `Starts the orchestrator HTTP API. Configuration is read from ` +
			`the environment`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s := &service{
				cfg:  cfg,
				quit: make(chan os.Signal, 1),
			}
			return s.run(cmdContext(cmd))
		},
	}
}

func (s *service) run(ctx context.Context) error {
	slog.Info("Configuration loaded",
		log.Node(s.cfg.NodeName),
		slog.String("redis_addr", s.cfg.Store.Addr),
		slog.Int("redis_db", s.cfg.Store.DB),
		slog.String("archive_url", s.cfg.Archive.BucketURL),
		slog.String("build_server", s.cfg.BuildServer.URL),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))

	if err := s.initializeStores(ctx); err != nil {
		return err
	}
	if err := s.initializeEngine(ctx); err != nil {
		s.closeStores()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *service) initializeStores(ctx context.Context) error {
	s.store = store.NewRedisStore(s.cfg.Store)
	if s.cfg.Archive.BucketURL == "" {
		return nil
	}

	arch, err := archive.NewBlobArchiver(
		ctx, s.cfg.Archive.BucketURL, s.cfg.Archive.Prefix,
	)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("%w: %w", ErrCreateArchive, err)
	}
	s.archiver = arch
	return nil
}

// resolver looks jobs up in the in-process registry first, then on the
// remote build server when one is configured. The registry only carries the
// built-in noop job
func (s *service) resolver() job.Resolver {
	s.jobs = job.NewRegistry()
	s.jobs.Register(noopJob, func(context.Context, *job.Request) (
		api.Result, error,
	) {
		return api.Success, nil
	})
	res := job.Resolvers{s.jobs}
	if s.cfg.BuildServer.URL != "" {
		res = append(res, client.NewHTTPResolver(s.cfg.BuildServer))
	}
	return res
}

func (s *service) initializeEngine(ctx context.Context) error {
	s.hub = events.NewHub()
	eng, err := engine.New(s.cfg, engine.Dependencies{
		Resolver: s.resolver(),
		Store:    s.store,
		Archiver: s.archiver,
		Hub:      s.hub,
	})
	if err != nil {
		return err
	}
	s.engine = eng
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStartEngine, err)
	}
	return nil
}

func (s *service) startServer() {
	s.apiServer = server.NewServer(s.engine)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
			s.quit <- syscall.SIGTERM
		}
	}()
}

func (s *service) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	s.hub.Close()
	s.closeStores()

	slog.Info("Server exited")
}

func (s *service) closeStores() {
	if s.archiver != nil {
		_ = s.archiver.Close()
	}
	_ = s.store.Close()
}
