// Package shot defines the capture record naming scheme shared by the
// agent and the collection console.
package shot

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Prefix and Ext frame every record name:
	// screenshot_YYYYMMDD_HHMMSS.png
	Prefix = "screenshot_"
	Ext    = ".png"

	stampLayout = "20060102_150405"
	dateLayout  = "20060102"
	dayLayout   = "02-01-2006"
)

// Filename returns the record name for a capture taken at t.
func Filename(t time.Time) string {
	return Prefix + t.Format(stampLayout) + Ext
}

// DayKey formats t as the DD-MM-YYYY key used both for local day
// folders and as the upload's destination metadata.
func DayKey(t time.Time) string {
	return t.Format(dayLayout)
}

// IsImage reports whether name looks like a stored capture image.
// The pending queue treats every image under the capture root as a
// record, prefixed or not, so leftovers from older versions are still
// recovered.
func IsImage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Ext)
}

// ParseStamp extracts the capture timestamp embedded in a record name.
// The boolean is false when the name does not carry a full stamp.
func ParseStamp(name string) (time.Time, bool) {
	core, ok := stem(name)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(stampLayout, core, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseDate extracts just the YYYYMMDD date segment. Names with a
// valid date but a mangled time portion still resolve to a day.
func parseDate(name string) (time.Time, bool) {
	core, ok := stem(name)
	if !ok {
		return time.Time{}, false
	}
	date, _, _ := strings.Cut(core, "_")
	t, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func stem(name string) (string, bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return strings.CutPrefix(base, Prefix)
}

// DayKeyFor derives the day key for an on-disk record. The key comes
// from the date embedded in the filename; records with unparseable
// names fall back to their modification time. It is computed
// independently of the day folder the file happens to live in: the
// server buckets strictly by this value.
func DayKeyFor(path string) (string, error) {
	if t, ok := parseDate(path); ok {
		return DayKey(t), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return DayKey(info.ModTime()), nil
}
