// Package fsutil contains the filesystem primitives shared by the sync
// phases: busy-aware retries and atomic replacement of files.
package fsutil

import (
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
)

const (
	// DefaultBusyRetries is how many times a busy operation is retried
	// before its error is returned.
	DefaultBusyRetries = 3

	// DefaultBusyDelay is the pause between busy retries.
	DefaultBusyDelay = time.Second
)

// busyMessages match lock errors that aren't surfaced as errnos, such as
// sharing violations on Windows.
var busyMessages = []string{
	"being used by another process",
	"resource busy",
	"text file busy",
}

// IsBusy returns whether err was caused by another process holding the file.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, busy := range busyMessages {
		if strings.Contains(msg, busy) {
			return true
		}
	}
	return false
}

// Retrier retries idempotent filesystem operations that fail because a file
// is temporarily locked. Other errors are returned immediately.
type Retrier struct {
	Clock   clockwork.Clock
	Retries int
	Delay   time.Duration
}

// NewRetrier returns a Retrier with the default policy.
func NewRetrier(clock clockwork.Clock) Retrier {
	return Retrier{Clock: clock, Retries: DefaultBusyRetries, Delay: DefaultBusyDelay}
}

// Do runs op, retrying it while it fails with a busy error.
func (r Retrier) Do(op func() error) error {
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	err := op()
	for attempt := 0; attempt < r.Retries && IsBusy(err); attempt++ {
		clock.Sleep(r.Delay)
		err = op()
	}
	return err
}

// RemoveAll removes path and any children it contains.
func (r Retrier) RemoveAll(fs afero.Fs, path string) error {
	return r.Do(func() error {
		return fs.RemoveAll(path)
	})
}

// Rename moves oldpath to newpath, replacing newpath if it exists.
func (r Retrier) Rename(fs afero.Fs, oldpath, newpath string) error {
	return r.Do(func() error {
		return fs.Rename(oldpath, newpath)
	})
}
