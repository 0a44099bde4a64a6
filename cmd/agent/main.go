// Command agent runs one replica of one role's Agent Loop Runtime
// (§4.5): facts, drift, or planner, selected by -role. Every agent role
// is an independent consumer process (§5), so a deployment runs this
// binary once per role, each with replica count N >= 1 against the same
// stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
	"github.com/governed-swarm/swarmrt/pkg/agentloop"
	"github.com/governed-swarm/swarmrt/pkg/roles"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	role := flag.String("role", getEnv("SWARM_ROLE", ""), "role to run: facts-role, drift-role, or planner-role")
	flag.Parse()

	spec, ok := roles.Registry[*role]
	if !ok {
		slog.Error("unknown role", "role", *role)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, *configDir)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	runner, suggestions, err := buildRunner(spec, svc)
	if err != nil {
		slog.Error("build runner failed", "role", *role, "error", err)
		os.Exit(1)
	}

	loop := agentloop.New(spec, agentloop.Dependencies{
		Bus:          svc.Bus,
		BusPublisher: svc.Bus,
		Stream:       svc.Config.Bus.StreamName,
		Activation:   svc.Activation,
		StateGraph:   svc.StateGraph,
		Authz:        svc.Authz,
		Publisher:    svc.Publisher,
		WAL:          svc.WAL,
		Processed:    svc.Processed,
		Runner:       runner,
		Suggestions:  suggestions,
	}, svc.Config.AgentLoop)

	slog.Info("agent loop starting", "role", *role)
	if err := loop.Run(ctx); err != nil {
		slog.Error("agent loop exited with error", "role", *role, "error", err)
		os.Exit(1)
	}
	slog.Info("agent loop stopped", "role", *role)
}

func buildRunner(spec roles.Spec, svc *bootstrap.Services) (roles.Runner, agentloop.SuggestionsFunc, error) {
	switch spec.Role {
	case roles.Facts:
		return roles.NewFactsRunner(svc.Extraction, svc.Objects), nil, nil
	case roles.Drift:
		return roles.NewDriftRunner(svc.Extraction, svc.Objects), nil, nil
	case roles.Planner:
		return roles.NewPlannerRunner(svc.Objects), svc.PlannerSuggestions(), nil
	default:
		return nil, nil, fmt.Errorf("no runner wired for role %s", spec.Role)
	}
}
