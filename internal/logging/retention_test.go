package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -10)

	write := func(name string, mtime time.Time) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
		return path
	}
	staleLog := write("autovideo-20260430.log", old)
	staleEvents := write("autovideo-20260430.events", old)
	live := write("autovideo-20260429.log", old)
	fresh := write("autovideo-20260509.log", now.Add(-time.Hour))
	unrelated := write("notes.txt", old)

	target := RetentionTarget{
		Dir:      dir,
		Patterns: []string{"autovideo-*.log", "autovideo-*.events"},
		Keep:     []string{live},
	}
	if got := PruneLogs(NewNop(), 7, now, target); got != 2 {
		t.Fatalf("PruneLogs removed %d files, want 2", got)
	}
	for _, gone := range []string{staleLog, staleEvents} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed", gone)
		}
	}
	for _, kept := range []string{live, fresh, unrelated} {
		if _, err := os.Stat(kept); err != nil {
			t.Fatalf("expected %s to remain: %v", kept, err)
		}
	}
}

func TestPruneLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autovideo-1.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().AddDate(-1, 0, 0)
	_ = os.Chtimes(path, old, old)
	if got := PruneLogs(nil, 0, time.Now(), RetentionTarget{Dir: dir}); got != 0 {
		t.Fatalf("expected pruning disabled, removed %d", got)
	}
	if got := PruneLogs(nil, 1, time.Now(), RetentionTarget{Dir: filepath.Join(dir, "missing")}); got != 0 {
		t.Fatalf("missing dir should prune nothing, removed %d", got)
	}
}
