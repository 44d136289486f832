// Command swarmling runs a load-generation worker that joins a master-
// coordinated swarm. It loads a YAML scenario of weighted HTTP endpoints,
// registers one task prototype per endpoint and then follows the master's
// hatch/stop/quit control frames.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarmling/swarmling/internal/config"
	"github.com/swarmling/swarmling/internal/runner"
	"github.com/swarmling/swarmling/internal/task"
)

const requestTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "swarmling",
		Short:         "distributed load-generation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Scenario == "" {
		return fmt.Errorf("a scenario file is required (--scenario)")
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	scenario, err := task.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}

	w, err := runner.New(runner.Options{
		MasterHost:   cfg.MasterHost,
		MasterPort:   cfg.MasterPort,
		BufferSize:   cfg.BufferSize,
		Threads:      cfg.Threads,
		StatInterval: cfg.StatIntervalDuration(),
		RandomSeed:   cfg.RandomSeed,
		MaxRPS:       cfg.MaxRPS,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	w.Register(buildTasks(scenario)...)

	logger.Info("worker starting",
		zap.String("node_id", w.NodeID()),
		zap.String("master", fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort)),
		zap.Int("endpoints", len(scenario.Endpoints)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return w.Run(ctx)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildTasks turns scenario endpoints into HTTP task prototypes sharing one
// client.
func buildTasks(scenario *task.Scenario) []task.Task {
	client := &http.Client{Timeout: requestTimeout}
	tasks := make([]task.Task, 0, len(scenario.Endpoints))
	for _, ep := range scenario.Endpoints {
		tasks = append(tasks, task.NewHTTPTask(ep, client))
	}
	return tasks
}
