package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/db"
)

const (
	postgresImage = "postgres:16-alpine"
	mongoImage    = "mongo:7"
	redisImage    = "redis:7-alpine"
)

// SetupTestDB starts a disposable PostgreSQL container, applies the
// migrations and returns a connection. The container is terminated when the
// test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "tenant",
			"POSTGRES_PASSWORD": "tenant",
			"POSTGRES_DB":       "tenant_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(ctx, t, req)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to get postgres port: %v", err)
	}

	cfg := db.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "tenant",
		Password: "tenant",
		Name:     "tenant_test",
	}
	conn, err := db.Connect(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.RunMigrations(conn, "up"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return conn
}

// CleanupTestDB removes every organization, admin and org_ schema.
func CleanupTestDB(t *testing.T, conn *sql.DB) {
	t.Helper()
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE tenancy.organizations, tenancy.admins"); err != nil {
		t.Logf("Warning: failed to truncate tables: %v", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT nspname FROM pg_namespace WHERE nspname LIKE 'org\_%'`)
	if err != nil {
		t.Logf("Warning: failed to list schemas: %v", err)
		return
	}
	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			schemas = append(schemas, name)
		}
	}
	rows.Close()

	for _, s := range schemas {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA %q CASCADE`, s)); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", s, err)
		}
	}
}

// SetupTestMongo starts a disposable MongoDB container and returns its URI.
func SetupTestMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        mongoImage,
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(ctx, t, req)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get mongo host: %v", err)
	}
	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatalf("Failed to get mongo port: %v", err)
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

// SetupTestRedis starts a disposable Redis container and returns its address.
func SetupTestRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(ctx, t, req)

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}
	return endpoint
}

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate %s container: %v", req.Image, err)
		}
	})
	return container
}
