//go:build integration

package pgcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sandrolain/rescache/test"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage    = "postgres:18.0-alpine3.22"
	postgresPassword = "testpassword"
	postgresUser     = "testuser"
	postgresDB       = "testdb"
)

func setupPostgreSQLContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, host, port.Port(), postgresDB)
}

func TestPgStoreIntegration(t *testing.T) {
	connString := setupPostgreSQLContainer(t)

	s, err := New(t.Context(), connString, Config{TableName: "rescache_entries_test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	test.Store(t, s)
}

func TestPgStoreExpiryIntegration(t *testing.T) {
	connString := setupPostgreSQLContainer(t)

	s, err := New(t.Context(), connString, Config{TableName: "rescache_entries_expiry_test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	test.StoreExpiry(t, s, time.Second, 2*time.Second)
}
