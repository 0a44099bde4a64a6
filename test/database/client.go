// Package database provides a disposable PostgreSQL instance for
// integration tests, grounded on the teacher's test/database/client.go:
// spins up a postgres:16-alpine testcontainer (or points at
// CI_DATABASE_URL when running against CI's external service
// container), then opens the connection through this repo's own
// pkg/database.NewClient so integration tests run the real
// golang-migrate schema, not a hand-maintained copy of it.
package database

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	swarmdb "github.com/governed-swarm/swarmrt/pkg/database"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container addressed as host:port.
// In local dev: spins up a testcontainer with PostgreSQL.
// The container/connection is automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *swarmdb.Client {
	t.Helper()
	ctx := context.Background()

	cfg := swarmdb.Config{
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	if host, port, ok := ciAddr(); ok {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		cfg.Host, cfg.Port = host, port
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.User),
			postgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		mapped, err := pgContainer.MappedPort(ctx, "5432/tcp")
		require.NoError(t, err)

		cfg.Host = host
		cfg.Port = mapped.Int()
	}

	client, err := swarmdb.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}

// ciAddr splits CI_DATABASE_URL as a bare host:port pair; the CI service
// container's user/password/database are fixed by its own definition and
// match the defaults NewTestClient already uses against testcontainers.
func ciAddr() (host string, port int, ok bool) {
	raw := os.Getenv("CI_DATABASE_URL")
	if raw == "" {
		return "", 0, false
	}
	h, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return "", 0, false
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return h, p, true
}
