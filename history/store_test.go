package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/yairfalse/vahti/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "vahti", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(i int, op types.OperationType, branch string, action types.Action) types.DecisionRecord {
	return types.DecisionRecord{
		ID:        fmt.Sprintf("rec-%03d", i),
		Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		Hook:      types.HookPrePush,
		Operation: op,
		Repo:      "acme/api",
		Branch:    branch,
		Action:    action,
		RiskScore: 5.0,
	}
}

func TestStore_RecordAndQuery(t *testing.T) {
	store := openTestStore(t)

	rec := testRecord(1, types.OpForcePush, "main", types.ActionBlock)
	rec.Reason = "force push to protected branch"
	if err := store.Record(rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := store.Query(types.DecisionQuery{Branch: "main"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query returned %d records, want 1", len(got))
	}
	if got[0].ID != "rec-001" {
		t.Errorf("ID = %q, want rec-001", got[0].ID)
	}
	if got[0].Reason != "force push to protected branch" {
		t.Errorf("Reason = %q", got[0].Reason)
	}
}

func TestStore_RecordRejectsInvalid(t *testing.T) {
	store := openTestStore(t)

	rec := testRecord(1, types.OpPush, "main", types.ActionAllow)
	rec.ID = ""
	if err := store.Record(rec); err == nil {
		t.Fatal("expected validation error for empty ID")
	}
}

func TestStore_QueryNewestFirst(t *testing.T) {
	store := openTestStore(t)

	for i := 1; i <= 5; i++ {
		if err := store.Record(testRecord(i, types.OpPush, "dev", types.ActionAllow)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Query(types.DecisionQuery{Limit: 3})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query returned %d records, want 3", len(got))
	}
	for i, want := range []string{"rec-005", "rec-004", "rec-003"} {
		if got[i].ID != want {
			t.Errorf("record %d: ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestStore_QueryFilters(t *testing.T) {
	store := openTestStore(t)

	seed := []types.DecisionRecord{
		testRecord(1, types.OpPush, "dev", types.ActionAllow),
		testRecord(2, types.OpForcePush, "main", types.ActionBlock),
		testRecord(3, types.OpBranchDelete, "main", types.ActionRequireApproval),
		testRecord(4, types.OpPush, "main", types.ActionAllow),
	}
	for _, rec := range seed {
		if err := store.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query types.DecisionQuery
		want  int
	}{
		{"by branch", types.DecisionQuery{Branch: "main"}, 3},
		{"by operation", types.DecisionQuery{Operation: types.OpForcePush}, 1},
		{"by action", types.DecisionQuery{Action: types.ActionAllow}, 2},
		{"branch and action", types.DecisionQuery{Branch: "main", Action: types.ActionAllow}, 1},
		{"no match", types.DecisionQuery{Branch: "release/9"}, 0},
		{"since excludes older", types.DecisionQuery{Since: time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(tt.query)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Query returned %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStore_IndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Record(testRecord(1, types.OpForcePush, "main", types.ActionBlock)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Query(types.DecisionQuery{Operation: types.OpForcePush})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("index not rebuilt: got %d records, want 1", len(got))
	}
}

func TestStore_Stats(t *testing.T) {
	store := openTestStore(t)

	seed := []types.DecisionRecord{
		testRecord(1, types.OpPush, "dev", types.ActionAllow),
		testRecord(2, types.OpPush, "dev", types.ActionAllow),
		testRecord(3, types.OpForcePush, "main", types.ActionBlock),
	}
	for _, rec := range seed {
		if err := store.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	stats := store.Stats()
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByAction[types.ActionAllow] != 2 {
		t.Errorf("ByAction[allow] = %d, want 2", stats.ByAction[types.ActionAllow])
	}
	if stats.ByOperation[types.OpForcePush] != 1 {
		t.Errorf("ByOperation[force_push] = %d, want 1", stats.ByOperation[types.OpForcePush])
	}
	if !stats.Oldest.Equal(seed[0].Timestamp) {
		t.Errorf("Oldest = %v, want %v", stats.Oldest, seed[0].Timestamp)
	}
	if !stats.Newest.Equal(seed[2].Timestamp) {
		t.Errorf("Newest = %v, want %v", stats.Newest, seed[2].Timestamp)
	}
}

func TestStore_Prune(t *testing.T) {
	store := openTestStore(t)

	for i := 1; i <= 4; i++ {
		if err := store.Record(testRecord(i, types.OpPush, "dev", types.ActionAllow)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	removed, err := store.Prune(time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}

	got, err := store.Query(types.DecisionQuery{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("after prune: %d records, want 2", len(got))
	}
	if store.Stats().Total != 2 {
		t.Errorf("stats total after prune = %d, want 2", store.Stats().Total)
	}
}
