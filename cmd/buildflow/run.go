package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kode4food/buildflow/internal/client"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/flow"
	"github.com/kode4food/buildflow/internal/lock"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

var (
	ErrNoBuildServer = errors.New("BUILD_SERVER_URL is not set")
	ErrRunFailed     = errors.New("run did not succeed")
)

func runCmd() *cobra.Command {
	var node string
	var dotOnly bool

	cmd := &cobra.Command{
		Use:   "run [flags] /path/to/program.yaml",
		Short: "Run a directive program against the build server",
		Long: `Runs a directive program in the foreground, scheduling its ` +
			`jobs on the configured build server, then prints the run ` +
			`record and its execution graph`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prog, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			if node == "" {
				node = string(cfg.NodeName)
			}

			ctx, stop := signal.NotifyContext(
				cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM,
			)
			defer stop()

			run, err := runProgram(ctx, cfg, prog, api.NodeID(node))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printRun(out, run, dotOnly); err != nil {
				return err
			}
			if run.Status() != api.RunSucceeded {
				return fmt.Errorf("%w: %s", ErrRunFailed, run.Result())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "execution node name")
	cmd.Flags().BoolVar(&dotOnly, "dot", false,
		"print only the execution graph in DOT form")
	return cmd
}

func runProgram(
	ctx context.Context, cfg *config.Config, prog *api.Program,
	node api.NodeID,
) (*flow.Run, error) {
	if cfg.BuildServer.URL == "" {
		return nil, ErrNoBuildServer
	}
	if !api.IsValidID(node) {
		return nil, fmt.Errorf("%w: %s", api.ErrNodeInvalid, node)
	}

	locks := lock.NewRegistry(lock.WithPollInterval(cfg.LockPollInterval))
	run := flow.NewRun(flow.Config{
		Resolver:  client.NewHTTPResolver(cfg.BuildServer),
		Locks:     locks,
		Publisher: flow.PublisherFunc(logEvent),
		ID:        api.RunID(uuid.New().String()),
		Flow:      prog.Name,
		Node:      node,
	})
	if _, err := run.Execute(ctx, flow.NewProgramEvaluator(prog)); err != nil {
		slog.Warn("Run ended early",
			log.RunID(run.ID()),
			log.Error(err))
	}
	return run, nil
}

func printRun(w io.Writer, run *flow.Run, dotOnly bool) error {
	if !dotOnly {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run.Record()); err != nil {
			return err
		}
	}
	return run.WriteDOT(w)
}

func logEvent(typ api.EventType, id api.RunID, data any) {
	slog.Debug("Run event",
		slog.String("event_type", string(typ)),
		log.RunID(id),
		slog.Any("data", data))
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadProgram(path string) (*api.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := api.ParseProgram(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}
