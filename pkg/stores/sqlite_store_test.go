package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/jobstarter/jobstarter/pkg/runtime"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEnvironment(id, job string, status EnvironmentStatus, recordedAt time.Time) *Environment {
	return &Environment{
		ID:         id,
		JobName:    job,
		Mode:       "STREAMING",
		Family:     "table",
		SourcePath: "jobs/" + job + ".cue",
		Settings:   map[string]string{"foo.bar": "baz"},
		Status:     status,
		DurationMs: 12,
		CreatedAt:  recordedAt.Add(-time.Second),
		RecordedAt: recordedAt,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations checks migrations are idempotent.
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestStoreFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := store.RecordEnvironment(ctx, testEnvironment("env-1", "orders", EnvironmentStatusPrepared, time.Now()), nil); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if _, err := reopened.GetEnvironment(ctx, "env-1"); err != nil {
		t.Errorf("record lost after reopen: %v", err)
	}
}

func TestRecordAndGetEnvironment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	minSecs, maxSecs := int64(5), int64(60)
	prepared := time.Now().Truncate(time.Second)
	env := testEnvironment("env-1", "orders", EnvironmentStatusPrepared, time.Now())
	env.RetentionMinSeconds = &minSecs
	env.RetentionMaxSeconds = &maxSecs
	env.PreparedAt = &prepared

	warnings := []Warning{
		{Kind: WarningKindMissingKey, Key: "state.retention.max"},
		{Kind: WarningKindPolicy, Key: "engine.pipeline.max-parallelism", Message: "too low"},
	}
	if err := store.RecordEnvironment(ctx, env, warnings); err != nil {
		t.Fatalf("failed to record environment: %v", err)
	}

	got, err := store.GetEnvironment(ctx, "env-1")
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}

	if got.JobName != "orders" || got.Mode != "STREAMING" || got.Family != "table" {
		t.Errorf("unexpected environment: %+v", got)
	}
	if got.Settings["foo.bar"] != "baz" {
		t.Errorf("settings not round-tripped: %v", got.Settings)
	}
	if got.RetentionMinSeconds == nil || *got.RetentionMinSeconds != 5 {
		t.Errorf("retention min = %v, want 5", got.RetentionMinSeconds)
	}
	if got.RetentionMaxSeconds == nil || *got.RetentionMaxSeconds != 60 {
		t.Errorf("retention max = %v, want 60", got.RetentionMaxSeconds)
	}
	if got.PreparedAt == nil || !got.PreparedAt.Equal(prepared) {
		t.Errorf("prepared_at = %v, want %v", got.PreparedAt, prepared)
	}
	if got.Error != nil {
		t.Errorf("error = %v, want nil", *got.Error)
	}

	stored, err := store.ListWarnings(ctx, "env-1")
	if err != nil {
		t.Fatalf("failed to list warnings: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(stored))
	}
	if stored[0].Kind != WarningKindMissingKey || stored[0].Key != "state.retention.max" {
		t.Errorf("unexpected first warning: %+v", stored[0])
	}
	if stored[1].EnvironmentID != "env-1" || stored[1].ID == 0 {
		t.Errorf("warning not linked: %+v", stored[1])
	}
}

func TestRecordEnvironment_Replaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := testEnvironment("env-1", "orders", EnvironmentStatusPending, time.Now())
	if err := store.RecordEnvironment(ctx, env, []Warning{{Kind: WarningKindMissingKey, Key: "a"}}); err != nil {
		t.Fatal(err)
	}

	msg := "policy violation"
	env.Status = EnvironmentStatusFailed
	env.Error = &msg
	if err := store.RecordEnvironment(ctx, env, nil); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetEnvironment(ctx, "env-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != EnvironmentStatusFailed || got.Error == nil || *got.Error != msg {
		t.Errorf("record not replaced: %+v", got)
	}

	warnings, err := store.ListWarnings(ctx, "env-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected warnings to be replaced, got %d", len(warnings))
	}
}

func TestRecordEnvironment_RequiresID(t *testing.T) {
	store := setupTestStore(t)
	if err := store.RecordEnvironment(context.Background(), &Environment{}, nil); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestGetEnvironment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetEnvironment(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListEnvironments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now()
	records := []*Environment{
		testEnvironment("env-1", "orders", EnvironmentStatusPrepared, base.Add(-3*time.Minute)),
		testEnvironment("env-2", "orders", EnvironmentStatusFailed, base.Add(-2*time.Minute)),
		testEnvironment("env-3", "billing", EnvironmentStatusPrepared, base.Add(-time.Minute)),
	}
	records[2].Family = "session"
	for _, r := range records {
		if err := store.RecordEnvironment(ctx, r, nil); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		filter  EnvironmentFilter
		wantIDs []string
	}{
		{name: "all newest first", filter: EnvironmentFilter{}, wantIDs: []string{"env-3", "env-2", "env-1"}},
		{name: "by job", filter: EnvironmentFilter{JobName: "orders"}, wantIDs: []string{"env-2", "env-1"}},
		{name: "by status", filter: EnvironmentFilter{Status: EnvironmentStatusPrepared}, wantIDs: []string{"env-3", "env-1"}},
		{name: "by family", filter: EnvironmentFilter{Family: "session"}, wantIDs: []string{"env-3"}},
		{name: "limit", filter: EnvironmentFilter{Limit: 1}, wantIDs: []string{"env-3"}},
		{name: "offset", filter: EnvironmentFilter{Limit: 2, Offset: 1}, wantIDs: []string{"env-2", "env-1"}},
		{name: "no match", filter: EnvironmentFilter{JobName: "nope"}, wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := store.ListEnvironments(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListEnvironments failed: %v", err)
			}
			if len(envs) != len(tt.wantIDs) {
				t.Fatalf("got %d environments, want %d", len(envs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if envs[i].ID != id {
					t.Errorf("envs[%d] = %s, want %s", i, envs[i].ID, id)
				}
			}
		})
	}
}

func TestDeleteEnvironment_CascadesWarnings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordEnvironment(ctx, testEnvironment("env-1", "orders", EnvironmentStatusPrepared, time.Now()), nil); err != nil {
		t.Fatal(err)
	}
	if err := store.AddWarning(ctx, &Warning{EnvironmentID: "env-1", Kind: WarningKindMissingKey, Key: "x"}); err != nil {
		t.Fatalf("AddWarning failed: %v", err)
	}

	if err := store.DeleteEnvironment(ctx, "env-1"); err != nil {
		t.Fatalf("DeleteEnvironment failed: %v", err)
	}
	warnings, err := store.ListWarnings(ctx, "env-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected warnings to be deleted, got %d", len(warnings))
	}

	if err := store.DeleteEnvironment(ctx, "env-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddWarning_UnknownEnvironment(t *testing.T) {
	store := setupTestStore(t)

	err := store.AddWarning(context.Background(), &Warning{EnvironmentID: "missing", Kind: WarningKindMissingKey})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestFromSummary(t *testing.T) {
	env, err := runtime.New(runtime.Options{
		Config: config.MustFromMap(map[string]any{
			"job.name":            "orders",
			"state.retention.min": 5,
			"engine.foo.bar":      "baz",
		}),
		JobMode: engine.JobModeStreaming,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	record, warnings := FromSummary(env.Summary())
	if record.ID != env.ID() || record.JobName != "orders" || record.Mode != "STREAMING" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Status != EnvironmentStatusPrepared || record.PreparedAt == nil {
		t.Errorf("expected prepared record, got %+v", record)
	}
	if record.RetentionMinSeconds != nil {
		t.Error("retention must be nil when only one bound is set")
	}
	if record.Settings["foo.bar"] != "baz" {
		t.Errorf("settings = %v", record.Settings)
	}
	if len(warnings) != 1 || warnings[0].Key != config.KeyMaxStateRetention {
		t.Errorf("unexpected warnings: %+v", warnings)
	}

	store := setupTestStore(t)
	if err := store.RecordEnvironment(context.Background(), record, warnings); err != nil {
		t.Fatalf("failed to record summary: %v", err)
	}
	got, err := store.GetEnvironment(context.Background(), env.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.JobName != "orders" {
		t.Errorf("job name = %s", got.JobName)
	}
}
