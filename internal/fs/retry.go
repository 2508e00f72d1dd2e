package fs

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// retry wraps rename and remove against transient errors (scanners or
// backup tools briefly holding handles). Files here are single images,
// so a short bounded backoff is enough.

func retry(opName string, fn func() error) error {
	const maxAttempts = 3
	base := 50 * time.Millisecond

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isTransient(err) {
			return err
		}

		if attempt == maxAttempts {
			break
		}

		time.Sleep(base * (1 << (attempt - 1)))
	}

	return fmt.Errorf("%s failed after %d attempts: %w", opName, maxAttempts, lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT)
}
