package shot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilenameRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 30, 0, 0, time.Local)

	name := Filename(ts)
	if name != "screenshot_20240115_093000.png" {
		t.Fatalf("Filename = %q", name)
	}

	got, ok := ParseStamp(name)
	if !ok {
		t.Fatalf("ParseStamp(%q) not ok", name)
	}
	if !got.Equal(ts) {
		t.Fatalf("ParseStamp = %v, want %v", got, ts)
	}
}

func TestParseStampRejectsMangledNames(t *testing.T) {
	for _, name := range []string{
		"screenshot.png",
		"screenshot_.png",
		"screenshot_2024.png",
		"wallpaper_20240115_093000.png",
		"screenshot_20241315_093000.png", // month 13
	} {
		if _, ok := ParseStamp(name); ok {
			t.Errorf("ParseStamp(%q) unexpectedly ok", name)
		}
	}
}

func TestDayKeyForUsesEmbeddedDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenshot_20240115_093000.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := DayKeyFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "15-01-2024" {
		t.Fatalf("day key = %q, want 15-01-2024", key)
	}
}

func TestDayKeyForDateOnlyStamp(t *testing.T) {
	// A valid date with a mangled time portion still buckets by the
	// embedded date, matching the upload dispatcher's tolerance.
	dir := t.TempDir()
	path := filepath.Join(dir, "screenshot_20240115_9am.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := DayKeyFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "15-01-2024" {
		t.Fatalf("day key = %q, want 15-01-2024", key)
	}
}

func TestDayKeyForFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt_name.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2023, 7, 2, 12, 0, 0, 0, time.Local)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	key, err := DayKeyFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "02-07-2023" {
		t.Fatalf("day key = %q, want 02-07-2023", key)
	}
}

func TestDayKeyForMissingFile(t *testing.T) {
	if _, err := DayKeyFor(filepath.Join(t.TempDir(), "corrupt.png")); err == nil {
		t.Fatal("expected stat error for missing file with unparseable name")
	}
}

func TestIsImage(t *testing.T) {
	cases := map[string]bool{
		"screenshot_20240115_093000.png": true,
		"leftover.PNG":                   true,
		"notes.txt":                      false,
		"screenshot_20240115_093000":     false,
	}
	for name, want := range cases {
		if got := IsImage(name); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}
