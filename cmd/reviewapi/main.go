// Command reviewapi serves the review half of §6's HTTP surface: the
// Human-Review Queue's resolution endpoints (§4.13). Independent process
// from feedapi and the role/governance/executor consumers (§5).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/governed-swarm/swarmrt/internal/bootstrap"
	"github.com/governed-swarm/swarmrt/pkg/api"
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

	server := api.NewReviewServer(svc.Config, svc.DB.Pool(), svc.Review)
	if err := server.ValidateWiring(); err != nil {
		slog.Error("review server wiring incomplete", "error", err)
		os.Exit(1)
	}

	addr := ":" + svc.Config.System.HTTPPort
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("review server shutdown error", "error", err)
		}
	}()

	slog.Info("review server starting", "addr", addr)
	if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
		slog.Error("review server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("review server stopped")
}
