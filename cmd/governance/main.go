// Command governance runs the Governance Agent (§4.8): the sole
// consumer of swarm.proposals.>. Independent process, replica count
// N >= 1 against the same stream (§5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
	"github.com/governed-swarm/swarmrt/pkg/governance"
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

	agent := governance.New(governance.Dependencies{
		Bus:          svc.Bus,
		BusPublisher: svc.Bus,
		Stream:       svc.Config.Bus.StreamName,
		StateGraph:   svc.StateGraph,
		Drift:        svc.Objects,
		Policy:       svc.Policy,
		Mode:         svc.Config,
		Authz:        svc.Authz,
		Publisher:    svc.Publisher,
		Review:       svc.Review,
		Finality:     svc.Finality,
		Notifier:     svc.Notifier,
		LLM:          svc.GovernanceLLM,
	}, svc.Config.AgentLoop)

	slog.Info("governance agent starting")
	if err := agent.Run(ctx); err != nil {
		slog.Error("governance agent exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("governance agent stopped")
}
