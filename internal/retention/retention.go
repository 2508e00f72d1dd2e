// Package retention bounds a directory tree to a size budget by
// deleting the oldest unprotected files first.
package retention

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	shotfs "github.com/shotlog/shotlog/internal/fs"
)

type Engine struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// Result reports what one enforcement pass did.
type Result struct {
	Deleted   int   // files removed
	Reclaimed int64 // bytes freed
	FinalSize int64 // tree size when the pass ended
}

type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

// Enforce deletes the oldest files under root until the tree fits the
// budget, skipping every path in protected. A budget <= 0 disables
// retention entirely. Deletion failures are logged and skipped; the
// pass moves to the next candidate. The total size is recomputed after
// each deletion and the pass stops as soon as the tree fits.
func (e *Engine) Enforce(root string, budgetMB float64, protected map[string]struct{}) Result {
	if budgetMB <= 0 {
		return Result{}
	}
	budget := int64(budgetMB * 1024 * 1024)

	total := TotalSize(root)
	res := Result{FinalSize: total}
	if total <= budget {
		return res
	}

	e.log.Info("capture root over budget, starting rotation",
		"size", humanize.Bytes(uint64(total)),
		"budget", humanize.Bytes(uint64(budget)),
	)

	candidates := listFiles(root)
	sort.Slice(candidates, func(i, j int) bool {
		// Oldest first; path breaks mtime ties so the order is stable.
		if !candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].modTime.Before(candidates[j].modTime)
		}
		return candidates[i].path < candidates[j].path
	})

	for _, c := range candidates {
		if _, ok := protected[c.path]; ok {
			continue
		}

		e.log.Info("deleting old capture", "path", c.path)
		if err := shotfs.Remove(c.path); err != nil {
			e.log.Error("rotation delete failed", "path", c.path, "error", err)
		} else {
			res.Deleted++
			res.Reclaimed += c.size
		}

		res.FinalSize = TotalSize(root)
		if res.FinalSize <= budget {
			e.log.Info("rotation complete", "size", humanize.Bytes(uint64(res.FinalSize)))
			return res
		}
	}

	// Everything deletable is gone and the tree still exceeds the
	// budget: the remainder is protected pending work.
	e.log.Warn("rotation exhausted candidates over budget",
		"size", humanize.Bytes(uint64(res.FinalSize)),
		"protected", len(protected),
	)
	return res
}

// TotalSize sums the file sizes under root. Entries that vanish or
// fail to stat mid-walk are skipped: the walk runs every tick and must
// never turn one racing delete into a failure.
func TotalSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func listFiles(root string) []candidate {
	var files []candidate
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, candidate{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return files
}
