package opcache

import (
	"testing"
	"time"

	"github.com/yairfalse/vahti/types"
)

func TestFingerprint_Deterministic(t *testing.T) {
	meta := map[string]string{"branch": "main", "remote": "origin"}

	a := Fingerprint(types.HookPrePush, "git push --force origin main", meta)
	b := Fingerprint(types.HookPrePush, "git push --force origin main", meta)
	if a != b {
		t.Error("identical inputs should produce identical fingerprints")
	}

	c := Fingerprint(types.HookPrePush, "git push origin main", meta)
	if a == c {
		t.Error("different commands should produce different fingerprints")
	}

	d := Fingerprint(types.HookPrePush, "git push --force origin main", map[string]string{"branch": "dev"})
	if a == d {
		t.Error("different metadata should produce different fingerprints")
	}
}

func TestFingerprint_Normalization(t *testing.T) {
	a := Fingerprint(types.HookPrePush, "git  push   --force origin main", nil)
	b := Fingerprint(types.HookPrePush, "GIT PUSH --FORCE ORIGIN MAIN", nil)
	if a != b {
		t.Error("whitespace and case should not change the fingerprint")
	}
}

func TestCache_SetGet(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	fp := Fingerprint(types.HookPrePush, "git push --force origin main", nil)
	if err := c.Set(fp, ResultSafe, DefaultSafeTTL); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, ok := c.Get(fp)
	if !ok {
		t.Fatal("Get() miss after Set()")
	}
	if entry.Result != ResultSafe {
		t.Errorf("Result = %v, want safe", entry.Result)
	}
	if entry.TTL != 300000 {
		t.Errorf("TTL = %v ms, want 300000", entry.TTL)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	c.now = func() time.Time { return base }

	fp := Fingerprint(types.HookPrePush, "git push origin main", nil)
	if err := c.Set(fp, ResultDangerous, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return base.Add(99 * time.Millisecond) }
	if _, ok := c.Get(fp); !ok {
		t.Error("entry should still be live before TTL elapses")
	}

	c.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	if _, ok := c.Get(fp); ok {
		t.Error("entry should expire once TTL elapses")
	}

	// Expired entry is gone for good, not resurrected from disk.
	c.now = func() time.Time { return base }
	if _, ok := c.Get(fp); ok {
		t.Error("expired entry should have been removed from disk")
	}
}

func TestCache_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp := Fingerprint(types.HookPreCommit, "git commit", map[string]string{"branch": "main"})
	if err := first.Set(fp, ResultSafe, DefaultSafeTTL); err != nil {
		t.Fatal(err)
	}

	// A new Cache over the same dir models the next hook process.
	second, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := second.Get(fp)
	if !ok {
		t.Fatal("entry should survive process restart via disk tier")
	}
	if entry.Result != ResultSafe {
		t.Errorf("Result = %v, want safe", entry.Result)
	}
}

func TestCache_Cleanup(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	c.now = func() time.Time { return base }

	live := Fingerprint(types.HookPrePush, "live", nil)
	stale := Fingerprint(types.HookPrePush, "stale", nil)
	if err := c.Set(live, ResultSafe, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(stale, ResultUnknown, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return base.Add(time.Minute) }
	removed, err := c.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, ok := c.Get(live); !ok {
		t.Error("live entry should survive cleanup")
	}
	if _, ok := c.Get(stale); ok {
		t.Error("stale entry should be gone after cleanup")
	}
}

func TestCache_Stats(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Set(Fingerprint(types.HookPrePush, "a", nil), ResultSafe, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(Fingerprint(types.HookPrePush, "b", nil), ResultSafe, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(Fingerprint(types.HookPrePush, "c", nil), ResultDangerous, time.Hour); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByResult[ResultSafe] != 2 {
		t.Errorf("safe count = %d, want 2", stats.ByResult[ResultSafe])
	}
	if stats.Expired != 0 {
		t.Errorf("Expired = %d, want 0", stats.Expired)
	}
}

func TestIsDefinitelySafe(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"git push origin main", true},
		{"git push --force origin main", false},
		{"git push -f origin main", false},
		{"git push --force-with-lease origin main", false},
		{"git push --mirror origin", false},
		{"git push --delete origin feature", false},
		{"git branch -D feature", false},
		{"git branch -d feature", false},
		{"git reset --hard HEAD~3", false},
		{"git push origin +main", false},
		{"git push origin :feature", false},
		{"git push origin main:main", true},
		{"git commit -m message", true},
		{"git fetch --prune origin", false},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := IsDefinitelySafe(tt.command); got != tt.want {
				t.Errorf("IsDefinitelySafe(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestDefaultTTL(t *testing.T) {
	if DefaultTTL(ResultSafe) != DefaultSafeTTL {
		t.Error("safe results should get the long TTL")
	}
	if DefaultTTL(ResultDangerous) != DefaultDangerousTTL {
		t.Error("dangerous results should get the short TTL")
	}
	if DefaultTTL(ResultUnknown) != DefaultDangerousTTL {
		t.Error("unknown results should get the short TTL")
	}
}
