package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mu    sync.Mutex
	n     int
	fail  error
	taken []string
}

func (f *fakeRecorder) Take(root string, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.n++
	path := filepath.Join(root, "15-01-2024", fmt.Sprintf("screenshot_20240115_09%04d.png", f.n))
	f.taken = append(f.taken, path)
	return path, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	batches [][]string
	// confirm decides per path; nil confirms everything.
	confirm func(path string) bool
}

func (f *fakeUploader) UploadBatch(ctx context.Context, batch []string) map[string]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), batch...))
	confirmed := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		if f.confirm == nil || f.confirm(p) {
			confirmed[p] = struct{}{}
		}
	}
	return confirmed
}

func (f *fakeUploader) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

// A canceled context still gets the final drain: everything recovered
// from disk goes out in one batch, oldest first.
func TestRunDrainsRecoveredFilesOnShutdown(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	var want []string
	for i := 0; i < 5; i++ {
		rel := filepath.Join("15-01-2024", fmt.Sprintf("screenshot_20240115_0900%02d.png", i))
		want = append(want, seed(t, root, rel, base.Add(time.Duration(i)*time.Second)))
	}

	up := &fakeUploader{}
	a := New(Options{Root: root, Interval: time.Hour, BatchSize: 10}, &fakeRecorder{}, up, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := up.batchCount(); got != 1 {
		t.Fatalf("drain ran %d batches, want 1", got)
	}
	if !reflect.DeepEqual(up.batches[0], want) {
		t.Fatalf("drain batch:\n got  %v\n want %v", up.batches[0], want)
	}
}

func TestRunNoUploaderNoDrain(t *testing.T) {
	root := t.TempDir()
	seed(t, root, filepath.Join("15-01-2024", "screenshot_20240115_090000.png"), time.Now())

	a := New(Options{Root: root, Interval: time.Hour}, &fakeRecorder{}, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run without uploader: %v", err)
	}
	// The file must survive: nothing may delete it without a confirmed upload.
	if _, err := os.Stat(filepath.Join(root, "15-01-2024", "screenshot_20240115_090000.png")); err != nil {
		t.Fatalf("pending file gone: %v", err)
	}
}

func TestBatchTriggersAtThreshold(t *testing.T) {
	root := t.TempDir()
	rec := &fakeRecorder{}
	up := &fakeUploader{}
	a := New(Options{Root: root, Interval: 5 * time.Millisecond, BatchSize: 3}, rec, up, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for up.batchCount() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("no batch within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	up.mu.Lock()
	first := up.batches[0]
	up.mu.Unlock()
	if len(first) != 3 {
		t.Fatalf("first batch size = %d, want 3", len(first))
	}
	rec.mu.Lock()
	wantFirst := rec.taken[:3]
	rec.mu.Unlock()
	if !reflect.DeepEqual(first, wantFirst) {
		t.Fatalf("batch not oldest-first:\n got  %v\n want %v", first, wantFirst)
	}
}

// Crossing the batch threshold dispatches the whole queue, and only
// the confirmed entries leave it: with a threshold of 2 and [a,b,c]
// pending, a rejected c stays queued alone.
func TestTickDispatchesWholeQueue(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	var paths []string
	for i, name := range []string{"a", "b", "c"} {
		rel := filepath.Join("15-01-2024", fmt.Sprintf("screenshot_20240115_09000%d_%s.png", i, name))
		paths = append(paths, seed(t, root, rel, base.Add(time.Duration(i)*time.Second)))
	}

	up := &fakeUploader{confirm: func(p string) bool { return p != paths[2] }}
	a := New(Options{Root: root, Interval: time.Hour, BatchSize: 2},
		&fakeRecorder{fail: errors.New("display asleep")}, up, discard())
	if _, err := a.queue.Scan(root); err != nil {
		t.Fatal(err)
	}

	a.tick(context.Background())

	if got := up.batchCount(); got != 1 {
		t.Fatalf("tick ran %d batches, want 1", got)
	}
	if !reflect.DeepEqual(up.batches[0], paths) {
		t.Fatalf("batch:\n got  %v\n want %v", up.batches[0], paths)
	}
	if got := a.queue.Items(); !reflect.DeepEqual(got, paths[2:]) {
		t.Fatalf("pending after dispatch:\n got  %v\n want %v", got, paths[2:])
	}
}

func TestCaptureFailureKeepsLooping(t *testing.T) {
	root := t.TempDir()
	up := &fakeUploader{}
	a := New(Options{Root: root, Interval: time.Millisecond, BatchSize: 1}, &fakeRecorder{fail: errors.New("display asleep")}, up, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Nothing was captured, so the batch trigger never fired and there
	// was nothing to drain.
	if got := up.batchCount(); got != 0 {
		t.Fatalf("uploader called %d times with no captures", got)
	}
}

func TestUnconfirmedFilesStayQueued(t *testing.T) {
	root := t.TempDir()
	stuck := seed(t, root, filepath.Join("15-01-2024", "screenshot_20240115_090000.png"), time.Now())

	up := &fakeUploader{confirm: func(string) bool { return false }}
	a := New(Options{Root: root, Interval: time.Hour, BatchSize: 10}, &fakeRecorder{}, up, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := up.batchCount(); got != 1 {
		t.Fatalf("drain batches = %d, want 1", got)
	}
	if _, err := os.Stat(stuck); err != nil {
		t.Fatalf("unconfirmed file missing: %v", err)
	}
}
