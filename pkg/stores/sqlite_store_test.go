package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bindkit/bindkit/pkg/discovery"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "bindkit.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return store
}

func sampleResult() *discovery.Result {
	started := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	return &discovery.Result{
		RunID:       uuid.New().String(),
		Environment: "production",
		ModuleCount: 3,
		CacheHits:   1,
		CacheMisses: 2,
		Descriptors: []discovery.ComponentDescriptor{
			{
				Contract:       "acme/workers.IUserWorker",
				Implementation: "acme/workers.UserWorker",
				Lifecycle:      discovery.LifecycleSingleton,
			},
			{
				Contract:       "acme/queues.IQueue",
				Implementation: "acme/queues.MemoryQueue",
				Lifecycle:      discovery.LifecycleScoped,
			},
		},
		Plugins: &discovery.PluginExecution{
			RunID: uuid.New().String(),
			Reports: []discovery.PluginReport{
				{
					Name:          "manifest-bindings",
					Priority:      10,
					Success:       true,
					Messages:      []string{"binding acme/queues.IQueue|acme/queues.MemoryQueue already discovered by an earlier plugin"},
					ExecutionTime: 12 * time.Millisecond,
				},
				{
					Name:          "flaky",
					Priority:      50,
					Success:       false,
					Error:         "discovery exploded",
					ExecutionTime: 3 * time.Millisecond,
				},
			},
			HasErrors: true,
		},
		HasErrors: true,
		StartedAt: started,
		Duration:  750 * time.Millisecond,
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("NewSQLiteStore() accepted an empty path")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() second call error: %v", err)
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	result := sampleResult()

	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("SaveRun() error: %v", err)
	}

	run, err := store.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}

	if run.Environment != "production" {
		t.Errorf("Environment = %q, want production", run.Environment)
	}
	if run.ModuleCount != 3 || run.DescriptorCount != 2 {
		t.Errorf("Counts = %d modules %d descriptors, want 3 and 2", run.ModuleCount, run.DescriptorCount)
	}
	if run.CacheHits != 1 || run.CacheMisses != 2 {
		t.Errorf("Cache counters = %d hits %d misses, want 1 and 2", run.CacheHits, run.CacheMisses)
	}
	if !run.HasErrors {
		t.Error("HasErrors = false, want true")
	}
	if run.DurationMs != 750 {
		t.Errorf("DurationMs = %d, want 750", run.DurationMs)
	}
}

func TestSaveRunPersistsPluginReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	result := sampleResult()

	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("SaveRun() error: %v", err)
	}

	reports, err := store.GetPluginReports(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetPluginReports() error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("GetPluginReports() returned %d reports, want 2", len(reports))
	}

	first := reports[0]
	if first.Name != "manifest-bindings" || !first.Success {
		t.Errorf("reports[0] = %+v, want successful manifest-bindings", first)
	}
	if len(first.Messages) != 1 || !strings.Contains(first.Messages[0], "already discovered") {
		t.Errorf("reports[0].Messages = %v", first.Messages)
	}
	if first.ExecutionTimeMs != 12 {
		t.Errorf("reports[0].ExecutionTimeMs = %d, want 12", first.ExecutionTimeMs)
	}

	second := reports[1]
	if second.Success || second.Error != "discovery exploded" {
		t.Errorf("reports[1] = %+v, want failed flaky plugin", second)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("GetRun() error = nil for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleResult()
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := sampleResult()

	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("SaveRun(older) error: %v", err)
	}
	if err := store.SaveRun(ctx, newer); err != nil {
		t.Fatalf("SaveRun(newer) error: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != newer.RunID || runs[1].ID != older.RunID {
		t.Errorf("ListRuns() order = [%s, %s], want newest first", runs[0].ID, runs[1].ID)
	}

	limited, err := store.ListRuns(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListRuns(limit=1) error: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newer.RunID {
		t.Errorf("ListRuns(limit=1) = %v, want only the newest run", limited)
	}
}

func TestDeleteRunCascadesToPluginReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	result := sampleResult()

	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("SaveRun() error: %v", err)
	}
	if err := store.DeleteRun(ctx, result.RunID); err != nil {
		t.Fatalf("DeleteRun() error: %v", err)
	}

	if _, err := store.GetRun(ctx, result.RunID); err == nil {
		t.Error("GetRun() found a deleted run")
	}
	reports, err := store.GetPluginReports(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetPluginReports() error: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("GetPluginReports() returned %d reports after delete, want 0", len(reports))
	}

	if err := store.DeleteRun(ctx, result.RunID); err == nil {
		t.Error("DeleteRun() error = nil for missing run")
	}
}

func TestPruneRunsKeepsNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var newest string
	for i := 0; i < 5; i++ {
		result := sampleResult()
		result.StartedAt = time.Now().Add(time.Duration(i-5) * time.Minute)
		newest = result.RunID
		if err := store.SaveRun(ctx, result); err != nil {
			t.Fatalf("SaveRun() error: %v", err)
		}
	}

	pruned, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("PruneRuns() error: %v", err)
	}
	if pruned != 3 {
		t.Errorf("PruneRuns() removed %d runs, want 3", pruned)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs after prune, want 2", len(runs))
	}
	if runs[0].ID != newest {
		t.Errorf("Newest run %s was pruned", newest)
	}
}
