package principal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected store.
// Tests are skipped if Docker/podman is not available.
func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cagekeep_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := NewPostgresStore(ctx, PostgresStoreConfig{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestPostgres_UpsertAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := fmt.Sprintf("principal_pg_test_%d", time.Now().UnixNano())
	profile := &api.PrincipalProfile{
		PrincipalID:       id,
		Enabled:           true,
		LanguageAllowlist: []string{"python", "javascript"},
		LimitOverrides:    &api.ResourceLimits{MemoryMB: 1024, CPUCores: 2},
		ServiceTier:       "premium",
	}

	if err := store.Upsert(ctx, profile); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.PrincipalID != id {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, id)
	}
	if !got.Enabled {
		t.Error("expected Enabled = true")
	}
	if len(got.LanguageAllowlist) != 2 {
		t.Errorf("len(LanguageAllowlist) = %d, want 2", len(got.LanguageAllowlist))
	}
	if got.LimitOverrides == nil || got.LimitOverrides.MemoryMB != 1024 {
		t.Errorf("LimitOverrides = %+v, want MemoryMB=1024", got.LimitOverrides)
	}
	if got.ServiceTier != "premium" {
		t.Errorf("ServiceTier = %q, want %q", got.ServiceTier, "premium")
	}
}

func TestPostgres_UpsertReplacesExisting(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := fmt.Sprintf("principal_pg_test_%d", time.Now().UnixNano())
	store.Upsert(ctx, &api.PrincipalProfile{PrincipalID: id, Enabled: true, ServiceTier: "standard"})

	if err := store.Upsert(ctx, &api.PrincipalProfile{PrincipalID: id, Enabled: false, ServiceTier: "premium"}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Enabled {
		t.Error("expected Enabled = false after replacement")
	}
	if got.ServiceTier != "premium" {
		t.Errorf("ServiceTier = %q, want %q", got.ServiceTier, "premium")
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "principal_nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_Delete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	id := fmt.Sprintf("principal_pg_test_%d", time.Now().UnixNano())
	store.Upsert(ctx, &api.PrincipalProfile{PrincipalID: id, Enabled: true, ServiceTier: "standard"})

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
