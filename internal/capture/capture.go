// Package capture grabs the screen and persists each frame as a PNG
// under the day folder layout used by the rest of the pipeline.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/shotlog/shotlog/internal/fs"
	"github.com/shotlog/shotlog/internal/shot"
)

// Grabber produces one frame of the screen.
type Grabber interface {
	Grab() (image.Image, error)
}

// Display grabs the primary display through the OS capture facility.
type Display struct{}

// Grab captures display 0.
func (Display) Grab() (image.Image, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, errors.New("no active display")
	}
	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, fmt.Errorf("capturing display 0: %w", err)
	}
	return img, nil
}

// Recorder turns grabbed frames into screenshot files.
type Recorder struct {
	grab Grabber
}

// NewRecorder builds a recorder around the given frame source.
func NewRecorder(g Grabber) *Recorder {
	return &Recorder{grab: g}
}

// Take grabs one frame and writes it as
// <root>/<DD-MM-YYYY>/screenshot_<YYYYMMDD_HHMMSS>.png, creating the
// day folder as needed. It returns the path of the written file. On
// any failure nothing is left on disk.
func (r *Recorder) Take(root string, now time.Time) (string, error) {
	img, err := r.grab.Grab()
	if err != nil {
		return "", fmt.Errorf("grabbing frame: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding png: %w", err)
	}

	dir := filepath.Join(root, shot.DayKey(now))
	name := shot.Filename(now)
	if err := fs.WriteFile(dir, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return filepath.Join(dir, name), nil
}
