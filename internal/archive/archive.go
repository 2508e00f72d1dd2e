// Package archive is the collection-side store for uploaded
// screenshots, laid out as <root>/<user>/<day>/<file>. Every path
// segment that arrives over the wire is validated here, so handlers
// never touch the filesystem with raw request input.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shotlog/shotlog/internal/retention"
	"github.com/shotlog/shotlog/internal/shot"

	shotfs "github.com/shotlog/shotlog/internal/fs"
)

// ErrInvalidIdentifier marks a user, day or file name that is not safe
// to use as a path segment.
var ErrInvalidIdentifier = errors.New("invalid identifier")

const maxIdentifierLen = 128

// ValidIdentifier reports whether s can serve as a single path segment
// under the collection root: non-empty, bounded, no separators, not a
// dot directory.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLen {
		return false
	}
	if s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// UserSummary is one principal with collection counts for the index.
type UserSummary struct {
	Name  string
	Days  int
	Files int
}

// DaySummary is one day folder of a principal.
type DaySummary struct {
	Key   string
	Files int
	Size  int64
}

// FileInfo is one stored screenshot. Taken is zero when the filename
// carries no parseable capture stamp.
type FileInfo struct {
	Name  string
	Size  int64
	Taken time.Time
}

// Store reads and writes the collection tree.
type Store struct {
	root string
	ret  *retention.Engine
	log  *slog.Logger
}

// New opens (and creates if needed) the collection root.
func New(root string, log *slog.Logger) (*Store, error) {
	if err := shotfs.MkdirAll(root); err != nil {
		return nil, fmt.Errorf("creating collection root: %w", err)
	}
	return &Store{root: root, ret: retention.New(log), log: log}, nil
}

// Root returns the collection root directory.
func (s *Store) Root() string { return s.root }

// dir validates every segment and joins it under the root.
func (s *Store) dir(segments ...string) (string, error) {
	for _, seg := range segments {
		if !ValidIdentifier(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, seg)
		}
	}
	return filepath.Join(append([]string{s.root}, segments...)...), nil
}

// Save stores one upload and returns its root-relative path with
// forward slashes, the form reported back to the agent.
func (s *Store) Save(principal, day, name string, r io.Reader) (string, error) {
	dir, err := s.dir(principal, day, name)
	if err != nil {
		return "", err
	}
	dir = filepath.Dir(dir)
	if err := shotfs.WriteFileFrom(dir, name, r); err != nil {
		return "", fmt.Errorf("storing %s: %w", name, err)
	}
	rel := path.Join(principal, day, name)
	s.log.Debug("stored upload", "path", rel)
	return rel, nil
}

// Users lists every principal with day and file counts, sorted by name.
func (s *Store) Users() ([]UserSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading collection root: %w", err)
	}
	var users []UserSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		u := UserSummary{Name: e.Name()}
		days, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		for _, d := range days {
			if !d.IsDir() {
				continue
			}
			u.Days++
			files, err := os.ReadDir(filepath.Join(s.root, e.Name(), d.Name()))
			if err != nil {
				continue
			}
			for _, f := range files {
				if !f.IsDir() {
					u.Files++
				}
			}
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// Days lists a principal's day folders in chronological order; keys
// that do not parse as day keys sort last, by name.
func (s *Store) Days(principal string) ([]DaySummary, error) {
	dir, err := s.dir(principal)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var days []DaySummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d := DaySummary{Key: e.Name()}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			d.Files++
			d.Size += info.Size()
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		ti, oki := parseDayKey(days[i].Key)
		tj, okj := parseDayKey(days[j].Key)
		switch {
		case oki && okj:
			return ti.Before(tj)
		case oki != okj:
			return oki
		default:
			return days[i].Key < days[j].Key
		}
	})
	return days, nil
}

func parseDayKey(key string) (time.Time, bool) {
	t, err := time.Parse("02-01-2006", key)
	return t, err == nil
}

// Files lists one day folder sorted by name, which for stamped capture
// names is chronological.
func (s *Store) Files(principal, day string) ([]FileInfo, error) {
	dir, err := s.dir(principal, day)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := FileInfo{Name: e.Name(), Size: info.Size()}
		if t, ok := shot.ParseStamp(e.Name()); ok {
			fi.Taken = t
		}
		files = append(files, fi)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open opens one stored file for serving.
func (s *Store) Open(principal, day, name string) (*os.File, error) {
	p, err := s.dir(principal, day, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// DeleteFile removes one screenshot and prunes the day and user
// directories when they become empty.
func (s *Store) DeleteFile(principal, day, name string) error {
	p, err := s.dir(principal, day, name)
	if err != nil {
		return err
	}
	if err := shotfs.Remove(p); err != nil {
		return err
	}
	s.log.Info("deleted file", "path", path.Join(principal, day, name))
	s.pruneEmpty(filepath.Dir(p))
	return nil
}

// DeleteDay removes a whole day folder. Missing folders are an error
// so handlers can answer 404.
func (s *Store) DeleteDay(principal, day string) error {
	p, err := s.dir(principal, day)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("deleting day %s: %w", day, err)
	}
	s.log.Info("deleted day", "path", path.Join(principal, day))
	s.pruneEmpty(filepath.Dir(p))
	return nil
}

// pruneEmpty removes dir and then its parent when both turned empty.
// Removal of a non-empty directory fails and is deliberately ignored.
func (s *Store) pruneEmpty(dir string) {
	for dir != s.root && len(dir) > len(s.root) {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// WriteDayZip streams one day folder as a zip archive.
func (s *Store) WriteDayZip(w io.Writer, principal, day string) error {
	dir, err := s.dir(principal, day)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("zipping %s: %w", e.Name(), err)
		}
		hdr.Name = e.Name()
		hdr.Method = zip.Deflate
		part, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zipping %s: %w", e.Name(), err)
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("zipping %s: %w", e.Name(), err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("zipping %s: %w", e.Name(), err)
		}
	}
	return zw.Close()
}

// Sweep bounds the collection tree to budgetMB (oldest files first,
// nothing protected server-side) and prunes directories the pass
// emptied.
func (s *Store) Sweep(budgetMB float64) retention.Result {
	res := s.ret.Enforce(s.root, budgetMB, nil)
	if res.Deleted > 0 {
		s.pruneEmptyTree()
	}
	return res
}

func (s *Store) pruneEmptyTree() {
	users, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userDir := filepath.Join(s.root, u.Name())
		days, err := os.ReadDir(userDir)
		if err != nil {
			continue
		}
		for _, d := range days {
			if d.IsDir() {
				_ = os.Remove(filepath.Join(userDir, d.Name()))
			}
		}
		_ = os.Remove(userDir)
	}
}
