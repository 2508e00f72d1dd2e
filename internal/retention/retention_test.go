package retention

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEngine() *Engine {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// writeSized creates a file of n bytes under dir and pins its mtime.
func writeSized(t *testing.T, dir, name string, n int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnforceDisabled(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeSized(t, root, "a.png", 2048, base)
	writeSized(t, root, "b.png", 2048, base.Add(time.Minute))

	for _, budget := range []float64{0, -1} {
		res := testEngine().Enforce(root, budget, nil)
		if res.Deleted != 0 || res.Reclaimed != 0 {
			t.Fatalf("budget %v: expected no-op, got %+v", budget, res)
		}
	}
	if got := TotalSize(root); got != 4096 {
		t.Fatalf("files were touched: total = %d", got)
	}
}

func TestEnforceUnderBudget(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "a.png", 1024, time.Now().Add(-time.Hour))

	res := testEngine().Enforce(root, 1, nil) // 1 MB budget, 1 KB on disk
	if res.Deleted != 0 {
		t.Fatalf("deleted %d files while under budget", res.Deleted)
	}
	if _, err := os.Stat(filepath.Join(root, "a.png")); err != nil {
		t.Fatalf("file missing after no-op pass: %v", err)
	}
}

func TestEnforceDeletesOldestUntilFit(t *testing.T) {
	root := t.TempDir()
	half := 512 * 1024
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	oldest := writeSized(t, root, filepath.Join("15-01-2024", "screenshot_20240115_090000.png"), half, base)
	mid := writeSized(t, root, filepath.Join("15-01-2024", "screenshot_20240115_090010.png"), half, base.Add(10*time.Second))
	newest := writeSized(t, root, filepath.Join("15-01-2024", "screenshot_20240115_090020.png"), half, base.Add(20*time.Second))

	res := testEngine().Enforce(root, 1, nil)

	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", res.Deleted)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("oldest file still present (err = %v)", err)
	}
	for _, p := range []string{mid, newest} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("newer file %s was deleted: %v", p, err)
		}
	}
	if res.FinalSize > 1024*1024 {
		t.Fatalf("final size %d exceeds budget", res.FinalSize)
	}
}

func TestEnforceSkipsProtected(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	oldest := writeSized(t, root, "screenshot_20240115_090000.png", 4096, base)
	next := writeSized(t, root, "screenshot_20240115_090010.png", 4096, base.Add(10*time.Second))

	protected := map[string]struct{}{oldest: {}}
	// Budget below the protected file's size alone: the pass must not
	// touch it even though the tree stays over budget.
	res := testEngine().Enforce(root, float64(2048)/(1024*1024), protected)

	if _, err := os.Stat(oldest); err != nil {
		t.Fatalf("protected file was deleted: %v", err)
	}
	if _, err := os.Stat(next); !os.IsNotExist(err) {
		t.Fatalf("unprotected file survived (err = %v)", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", res.Deleted)
	}
	if res.FinalSize != 4096 {
		t.Fatalf("final size = %d, want 4096", res.FinalSize)
	}
}

func TestEnforceOrderTieBreak(t *testing.T) {
	root := t.TempDir()
	same := time.Now().Add(-time.Hour)
	a := writeSized(t, root, "a.png", 2048, same)
	b := writeSized(t, root, "b.png", 2048, same)

	res := testEngine().Enforce(root, float64(2048)/(1024*1024), nil)

	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", res.Deleted)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatalf("expected lexicographically first path to go, a: %v", err)
	}
	if _, err := os.Stat(b); err != nil {
		t.Fatalf("b should survive: %v", err)
	}
}

func TestTotalSizeMissingRoot(t *testing.T) {
	if got := TotalSize(filepath.Join(t.TempDir(), "absent")); got != 0 {
		t.Fatalf("TotalSize on missing root = %d, want 0", got)
	}
}
