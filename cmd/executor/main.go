// Command executor runs the Action Executor (§4.9): the sole consumer
// of swarm.actions.>. Independent process, replica count N >= 1 against
// the same stream (§5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
	"github.com/governed-swarm/swarmrt/pkg/executor"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, *configDir)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	exec := executor.New(executor.Dependencies{
		Bus:          svc.Bus,
		BusPublisher: svc.Bus,
		Stream:       svc.Config.Bus.StreamName,
		StateGraph:   svc.StateGraph,
		Drift:        svc.Objects,
		Gate:         svc.Policy,
		Publisher:    svc.Publisher,
		Finality:     svc.Decisions,
	}, svc.Config.AgentLoop)

	slog.Info("action executor starting")
	if err := exec.Run(ctx); err != nil {
		slog.Error("action executor exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("action executor stopped")
}
