// Package fs holds the few filesystem helpers the agent and console
// share: atomic file writes and retry-wrapped deletes.
package fs

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// WriteFile writes data to dir/name through a same-directory temp file
// and a rename, so readers never observe a partial image. An existing
// file with the same name is replaced. The directory is created when
// missing.
func WriteFile(dir, name string, data []byte) error {
	return writeFileFunc(dir, name, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteFileFrom is WriteFile for streamed content, used by the console
// when persisting uploaded records.
func WriteFileFrom(dir, name string, r io.Reader) error {
	return writeFileFunc(dir, name, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

func writeFileFunc(dir, name string, write func(*os.File) error) error {
	if err := MkdirAll(dir); err != nil {
		return err
	}

	// Dotted temp name keeps half-written files out of image scans.
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := renameWithRetry(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	syncDirBestEffort(dir)
	return nil
}

func MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Remove deletes one file, retrying transient errors. Callers treat a
// final failure as non-fatal: retention and upload cleanup both log it
// and move on.
func Remove(path string) error {
	return retry("remove", func() error {
		return os.Remove(path)
	})
}

func renameWithRetry(oldPath, newPath string) error {
	return retry("rename", func() error {
		return os.Rename(oldPath, newPath)
	})
}

// Directory sync semantics vary too much across platforms to treat a
// failure as one.
func syncDirBestEffort(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}
