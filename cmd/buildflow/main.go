package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kode4food/buildflow"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          buildflow.Name,
		Short:        "Build flow orchestrator",
		Long:         "Runs directive programs as build flows",
		Version:      buildflow.Version,
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	return root
}

// loadConfig reads the configuration from the environment and installs the
// default logger
func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level := log.ParseLevel(cfg.LogLevel)
	env := os.Getenv("ENV")
	logger := log.NewWithLevel(buildflow.Name, env, buildflow.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)
}
