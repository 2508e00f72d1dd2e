// Package pending tracks screenshots that are on disk but not yet
// confirmed uploaded. The queue holds absolute paths in oldest-first
// order; the files themselves are the durable state, so a restart
// rebuilds the queue with Scan.
package pending

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shotlog/shotlog/internal/shot"
)

// Queue is an ordered set of file paths awaiting upload. It is owned
// by the capture loop and is not safe for concurrent use.
type Queue struct {
	items []string
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

type scanned struct {
	path string
	mod  time.Time
}

// Scan replaces the queue contents with every screenshot image found
// under root, oldest first by modification time. A missing root means
// a fresh start and yields an empty queue. Entries that cannot be
// stat'ed are skipped.
func (q *Queue) Scan(root string) (int, error) {
	var found []scanned
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() || !shot.IsImage(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, scanned{path: path, mod: info.ModTime()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			q.items = nil
			return 0, nil
		}
		return 0, err
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].path < found[j].path
		}
		return found[i].mod.Before(found[j].mod)
	})

	q.items = q.items[:0]
	for _, f := range found {
		q.items = append(q.items, f.path)
	}
	return len(q.items), nil
}

// Append adds a freshly captured file to the back of the queue.
func (q *Queue) Append(path string) {
	q.items = append(q.items, path)
}

// Len reports how many files await upload.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queued paths, oldest first.
func (q *Queue) Items() []string {
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}

// Protected returns the queued paths as a set, for handing to the
// retention pass so in-flight files survive it.
func (q *Queue) Protected() map[string]struct{} {
	set := make(map[string]struct{}, len(q.items))
	for _, p := range q.items {
		set[p] = struct{}{}
	}
	return set
}

// Remove drops every path present in confirmed and keeps the rest in
// order. It returns the number of entries removed.
func (q *Queue) Remove(confirmed map[string]struct{}) int {
	if len(confirmed) == 0 {
		return 0
	}
	kept := q.items[:0]
	removed := 0
	for _, p := range q.items {
		if _, ok := confirmed[p]; ok {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	q.items = kept
	return removed
}
