package postgres

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

	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/transport"
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

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if Docker is not available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	// Verify podman is running.
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("toolgate_test"),
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

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
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

func makeTestInvocation(id string, started time.Time) *storage.Invocation {
	return &storage.Invocation{
		ID:         id,
		Tool:       "get_weather",
		Provider:   "weather",
		Owner:      "alice",
		Outcome:    storage.OutcomeOK,
		StartedAt:  started.UTC().Truncate(time.Microsecond),
		DurationMS: 42,
	}
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	inv := makeTestInvocation(uniqueID("req_pg"), time.Now())
	if err := store.SaveInvocation(ctx, inv); err != nil {
		t.Fatalf("SaveInvocation failed: %v", err)
	}

	got, err := store.GetInvocation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvocation failed: %v", err)
	}
	if got.Tool != inv.Tool || got.Provider != inv.Provider || got.Owner != inv.Owner {
		t.Errorf("got %+v, want %+v", got, inv)
	}
	if !got.StartedAt.Equal(inv.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, inv.StartedAt)
	}
	if got.DurationMS != 42 {
		t.Errorf("DurationMS = %d, want 42", got.DurationMS)
	}
}

func TestPostgres_ErrorText(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	inv := makeTestInvocation(uniqueID("req_pg_err"), time.Now())
	inv.Outcome = "timeout"
	inv.Error = "call exceeded 30s"
	store.SaveInvocation(ctx, inv)

	got, err := store.GetInvocation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvocation failed: %v", err)
	}
	if got.Outcome != "timeout" || got.Error != "call exceeded 30s" {
		t.Errorf("got %+v", got)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetInvocation(context.Background(), "req_nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateSave(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	inv := makeTestInvocation(uniqueID("req_pg_dup"), time.Now())
	store.SaveInvocation(ctx, inv)

	err := store.SaveInvocation(ctx, inv)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_ListAndPaginate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tool := uniqueID("tool")
	start := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		inv := makeTestInvocation(uniqueID(fmt.Sprintf("req_list%d", i)), start.Add(time.Duration(i)*time.Second))
		inv.Tool = tool
		store.SaveInvocation(ctx, inv)
		ids = append(ids, inv.ID)
	}

	page, err := store.ListInvocations(ctx, transport.ListOptions{Tool: tool, Limit: 2})
	if err != nil {
		t.Fatalf("ListInvocations failed: %v", err)
	}
	if len(page.Data) != 2 || !page.HasMore {
		t.Fatalf("page 1: %d records, has_more=%v", len(page.Data), page.HasMore)
	}
	if page.Data[0].ID != ids[2] || page.Data[1].ID != ids[1] {
		t.Errorf("page 1 order = [%s %s], want newest first", page.Data[0].ID, page.Data[1].ID)
	}

	page, err = store.ListInvocations(ctx, transport.ListOptions{Tool: tool, Limit: 2, After: page.LastID})
	if err != nil {
		t.Fatalf("ListInvocations failed: %v", err)
	}
	if len(page.Data) != 1 || page.HasMore || page.Data[0].ID != ids[0] {
		t.Errorf("page 2 = %+v", page)
	}
}

func TestPostgres_OwnerIsolation(t *testing.T) {
	store := setupTestDB(t)
	bg := context.Background()

	inv := makeTestInvocation(uniqueID("req_owner"), time.Now())
	store.SaveInvocation(bg, inv)

	if _, err := store.GetInvocation(storage.SetOwner(bg, "alice"), inv.ID); err != nil {
		t.Fatalf("owner should see own record: %v", err)
	}
	if _, err := store.GetInvocation(storage.SetOwner(bg, "bob"), inv.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("other owner should not see the record")
	}
	if _, err := store.GetInvocation(bg, inv.ID); err != nil {
		t.Fatalf("unscoped read should see all: %v", err)
	}

	list, err := store.ListInvocations(storage.SetOwner(bg, "bob"), transport.ListOptions{Tool: inv.Tool})
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range list.Data {
		if got.ID == inv.ID {
			t.Error("bob listed alice's record")
		}
	}
}

func TestPostgres_Prune(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	old := makeTestInvocation(uniqueID("req_pg_old"), now.Add(-48*time.Hour))
	fresh := makeTestInvocation(uniqueID("req_pg_fresh"), now)
	for _, inv := range []*storage.Invocation{old, fresh} {
		if err := store.SaveInvocation(ctx, inv); err != nil {
			t.Fatalf("SaveInvocation(%s): %v", inv.ID, err)
		}
	}

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n < 1 {
		t.Errorf("pruned %d records, want at least 1", n)
	}
	if _, err := store.GetInvocation(ctx, old.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old record after prune: err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetInvocation(ctx, fresh.ID); err != nil {
		t.Errorf("fresh record after prune: %v", err)
	}
}

func TestPostgres_MigrateIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	applied, err := store.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("appliedVersions failed: %v", err)
	}
	if !applied[1] {
		t.Errorf("applied = %v, want version 1", applied)
	}
}

func TestLoadMigrations(t *testing.T) {
	all, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(all) == 0 || all[0].version != 1 {
		t.Fatalf("migrations = %+v, want version 1 first", all)
	}
	if !strings.Contains(all[0].sql, "tool_invocations") {
		t.Error("first migration does not create tool_invocations")
	}
}
