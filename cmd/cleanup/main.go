// Command cleanup runs the two background maintenance sweeps
// (SPEC_FULL §C.1, §C.2) as their own process: the retention sweep
// (expiring stale review-queue rows, trimming convergence history) and
// the orphan sweep (requeuing wedged scopes), both on their own tickers,
// independent of the agent/governance/executor/API processes (§5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
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

	svc.Cleanup.Start(ctx)
	svc.Orphan.Start(ctx)
	slog.Info("maintenance sweeps running")

	<-ctx.Done()
	svc.Orphan.Stop()
	svc.Cleanup.Stop()
}
