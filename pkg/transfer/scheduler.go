package transfer

import (
	"io"
	"path"
	"sort"
	"strings"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
	"github.com/sidkik/packsync/pkg/manifest"
)

const (
	// DefaultConcurrency is the number of transfers that run at once.
	DefaultConcurrency = 5

	// DefaultTransportRetries is how many times a failed download is
	// retried before the entry is given up on.
	DefaultTransportRetries = 3

	// DefaultTransportDelay is the pause between download attempts.
	DefaultTransportDelay = time.Second
)

// DefaultPreserved are the basenames of user-editable files that are never
// replaced once they exist locally.
var DefaultPreserved = []string{"options.txt", "optionsof.txt", "optionsshaders.txt", "servers.dat"}

// Task is a single entry to bring up to date.
type Task struct {
	Entry manifest.FileEntry
	Dest  string
}

// Report lists the entries by what happened to them. Entries with a digest
// mismatch after download are in both Transferred and Mismatched.
type Report struct {
	Transferred []string
	Unchanged   []string
	Preserved   []string
	Missing     []string
	Failed      []string
	Mismatched  []string
}

// Scheduler executes transfer tasks in consecutive batches of at most
// Concurrency tasks. Each batch finishes completely before the next one
// starts.
type Scheduler struct {
	Fs     afero.Fs
	Source Source
	Clock  clockwork.Clock
	Sink   events.Sink

	Concurrency      int
	ProgressEvery    int
	Preserved        []string
	TransportRetries int
	TransportDelay   time.Duration
}

// NewScheduler returns a scheduler with the default policy.
func NewScheduler(fs afero.Fs, source Source, clock clockwork.Clock, sink events.Sink) Scheduler {
	return Scheduler{
		Fs:               fs,
		Source:           source,
		Clock:            clock,
		Sink:             sink,
		Concurrency:      DefaultConcurrency,
		ProgressEvery:    1,
		Preserved:        DefaultPreserved,
		TransportRetries: DefaultTransportRetries,
		TransportDelay:   DefaultTransportDelay,
	}
}

type outcome int

const (
	transferred outcome = iota
	unchanged
	preserved
	missing
	failed
)

// Run brings every task up to date. `cache` holds the entries of the previous
// snapshot, keyed by path. Per-entry failures are reported as warnings and
// don't stop the run. Local filesystem errors abort the run once the current
// batch finishes.
func (s Scheduler) Run(phase string, tasks []Task, cache map[string]manifest.FileEntry) (Report, error) {
	ceiling := s.Concurrency
	if ceiling <= 0 {
		ceiling = DefaultConcurrency
	}

	var report Report
	var mu goSync.Mutex
	processed := 0
	total := len(tasks)

	for start := 0; start < total; start += ceiling {
		end := start + ceiling
		if end > total {
			end = total
		}

		var batch errgroup.Group
		for _, task := range tasks[start:end] {
			task := task
			batch.Go(func() error {
				result, mismatched, err := s.runTask(task, cache)
				if err != nil {
					return errors.WithContext(err, task.Entry.Path)
				}

				mu.Lock()
				defer mu.Unlock()
				report.record(task.Entry.Path, result, mismatched)
				processed++
				if s.shouldReport(processed, total) {
					s.sink().Progress(events.Progress{Phase: phase, Processed: processed, Total: total})
				}
				return nil
			})
		}

		if err := batch.Wait(); err != nil {
			report.sort()
			return report, err
		}
	}

	report.sort()
	return report, nil
}

func (s Scheduler) runTask(task Task, cache map[string]manifest.FileEntry) (outcome, bool, error) {
	entry := task.Entry
	fields := logrus.Fields{"path": entry.Path}

	if s.isPreserved(path.Base(entry.Path)) {
		exists, err := fsutil.Exists(s.Fs, task.Dest)
		if err != nil {
			return failed, false, errors.WithContext(err, "stat")
		}
		if exists {
			events.Info(s.sink(), "Keeping user file", fields)
			return preserved, false, nil
		}
	}

	var cached *manifest.FileEntry
	if c, ok := cache[entry.Path]; ok {
		cached = &c
	}

	decision, tier, err := Classify(s.Fs, task.Dest, entry, cached)
	if err != nil {
		return failed, false, errors.WithContext(err, "check staleness")
	}
	if decision == Skip {
		events.Debug(s.sink(), "Up to date", logrus.Fields{"path": entry.Path, "tier": tier})
		return unchanged, false, nil
	}

	events.Info(s.sink(), "Downloading", fields)
	digest, err := s.downloadWithRetry(task)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		events.Warn(s.sink(), err, "File not found upstream. Skipping", fields)
		return missing, false, nil
	case isTransportError(err) || fsutil.IsBusy(err):
		events.Warn(s.sink(), err, "Failed to download file. Skipping", fields)
		return failed, false, nil
	default:
		return failed, false, err
	}

	if entry.SHA1 != "" && !strings.EqualFold(digest, entry.SHA1) {
		events.Warn(s.sink(), nil, "Downloaded file doesn't match its declared hash", logrus.Fields{
			"path":     entry.Path,
			"expected": entry.SHA1,
			"actual":   digest,
		})
		return transferred, true, nil
	}
	return transferred, false, nil
}

func (s Scheduler) downloadWithRetry(task Task) (string, error) {
	for attempt := 0; ; attempt++ {
		digest, err := s.download(task)
		if err == nil || errors.IsNotFound(err) || !isTransportError(err) ||
			attempt >= s.TransportRetries {
			return digest, err
		}

		events.Debug(s.sink(), "Retrying download", logrus.Fields{
			"path":    task.Entry.Path,
			"attempt": attempt + 1,
			"error":   err,
		})
		s.clock().Sleep(s.TransportDelay)
	}
}

// download streams the entry into place and returns the digest of the
// downloaded bytes.
func (s Scheduler) download(task Task) (string, error) {
	body, err := s.Source.Open(task.Entry)
	if err != nil {
		if errors.IsNotFound(err) {
			return "", err
		}
		return "", transportError{err}
	}
	defer body.Close()

	hasher := NewHasher()
	retrier := fsutil.NewRetrier(s.clock())
	_, err = fsutil.WriteAtomic(s.Fs, retrier, task.Dest, sourceReader{body}, hasher)
	if err != nil {
		return "", err
	}
	return EncodeDigest(hasher), nil
}

func (s Scheduler) isPreserved(basename string) bool {
	for _, p := range s.Preserved {
		if p == basename {
			return true
		}
	}
	return false
}

func (s Scheduler) shouldReport(processed, total int) bool {
	every := s.ProgressEvery
	if every <= 1 {
		return true
	}
	return processed%every == 0 || processed == total
}

func (s Scheduler) sink() events.Sink {
	if s.Sink == nil {
		return events.Discard
	}
	return s.Sink
}

func (s Scheduler) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (r *Report) record(path string, result outcome, mismatched bool) {
	switch result {
	case transferred:
		r.Transferred = append(r.Transferred, path)
	case unchanged:
		r.Unchanged = append(r.Unchanged, path)
	case preserved:
		r.Preserved = append(r.Preserved, path)
	case missing:
		r.Missing = append(r.Missing, path)
	case failed:
		r.Failed = append(r.Failed, path)
	}
	if mismatched {
		r.Mismatched = append(r.Mismatched, path)
	}
}

func (r *Report) sort() {
	for _, list := range [][]string{r.Transferred, r.Unchanged, r.Preserved,
		r.Missing, r.Failed, r.Mismatched} {
		sort.Strings(list)
	}
}

// Merge appends the entries of other to r.
func (r *Report) Merge(other Report) {
	r.Transferred = append(r.Transferred, other.Transferred...)
	r.Unchanged = append(r.Unchanged, other.Unchanged...)
	r.Preserved = append(r.Preserved, other.Preserved...)
	r.Missing = append(r.Missing, other.Missing...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Mismatched = append(r.Mismatched, other.Mismatched...)
}

// transportError marks failures that happened while reading from the
// source, as opposed to writing to the target root.
type transportError struct {
	err error
}

func (err transportError) Error() string {
	return err.err.Error()
}

func (err transportError) Unwrap() error {
	return err.err
}

func isTransportError(err error) bool {
	var te transportError
	return errors.As(err, &te)
}

type sourceReader struct {
	r io.Reader
}

func (sr sourceReader) Read(p []byte) (int, error) {
	n, err := sr.r.Read(p)
	if err != nil && err != io.EOF {
		err = transportError{err}
	}
	return n, err
}
