// Command feedapi serves the feed half of §6's HTTP surface: read-mostly
// status/event access plus context ingestion. Independent process from
// reviewapi and the role/governance/executor consumers (§5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
	"github.com/governed-swarm/swarmrt/pkg/api"
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
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, *configDir)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	go func() {
		if err := svc.Fanout.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("fanout listener stopped", "error", err)
		}
	}()

	server := api.NewFeedServer(svc.Config, svc.DB.Pool())
	server.SetPublisher(svc.Publisher)
	server.SetConnectionManager(svc.ConnManager)
	server.SetStateGraph(svc.StateGraph)
	server.SetStatusRunner(roles.NewStatusRunner(svc.Objects))
	server.SetSemanticGraph(svc.Semantic)
	server.SetReview(svc.Review)
	server.SetConvergence(svc.Convergence)

	if err := server.ValidateWiring(); err != nil {
		slog.Error("feed server wiring incomplete", "error", err)
		os.Exit(1)
	}

	addr := ":" + svc.Config.System.HTTPPort
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("feed server shutdown error", "error", err)
		}
	}()

	slog.Info("feed server starting", "addr", addr)
	if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
		slog.Error("feed server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("feed server stopped")
}
