// Package cleanup removes logs, crash reports, and caches that the game
// leaves behind in an instance root.
package cleanup

import (
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
)

// Target is something that's safe to delete from an instance root.
type Target struct {
	// Path is relative to the instance root.
	Path string

	// Pattern, if set, restricts the removal to the children of Path whose
	// names match it. Path itself is kept. Otherwise Path is removed.
	Pattern string
}

// DefaultTargets are removed by `packsync clean`.
var DefaultTargets = []Target{
	{Path: "logs", Pattern: "*.log.gz"},
	{Path: "logs", Pattern: "latest.log"},
	{Path: "crash-reports", Pattern: "*"},
	{Path: "nativelog.txt"},
	{Path: ".mixin.out"},
	{Path: "webcache"},
	{Path: "launcher_log.txt"},
}

// Stats summarizes a cleanup.
type Stats struct {
	FilesDeleted int   `json:"filesDeleted"`
	BytesFreed   int64 `json:"bytesFreed"`
}

// SpaceFreedMB returns the freed space in megabytes, rounded to two
// decimals.
func (s Stats) SpaceFreedMB() float64 {
	return math.Round(float64(s.BytesFreed)/(1024*1024)*100) / 100
}

// Cleaner removes targets from instance roots.
type Cleaner struct {
	Fs      afero.Fs
	Retrier fsutil.Retrier
	Sink    events.Sink
	Targets []Target
}

// Clean removes every target from `root`. A missing root isn't an error.
// Removal stops at the first failure, but the stats still count what was
// removed before it.
func (c Cleaner) Clean(root string) (Stats, error) {
	var stats Stats
	if exists, err := fsutil.Exists(c.Fs, root); err != nil || !exists {
		return stats, err
	}

	targets := c.Targets
	if targets == nil {
		targets = DefaultTargets
	}

	for _, target := range targets {
		paths, err := c.match(root, target)
		if err != nil {
			return stats, errors.WithContext(err, target.Path)
		}

		for _, path := range paths {
			size, err := c.size(path)
			if err != nil {
				return stats, errors.WithContext(err, "measure "+path)
			}

			if err := c.Retrier.RemoveAll(c.Fs, path); err != nil {
				return stats, errors.WithContext(err, "remove "+path)
			}

			rel, _ := filepath.Rel(root, path)
			events.Debug(c.Sink, "Removed", logrus.Fields{"path": rel, "bytes": size})
			stats.FilesDeleted++
			stats.BytesFreed += size
		}
	}
	return stats, nil
}

// match returns the paths that `target` refers to in `root`.
func (c Cleaner) match(root string, target Target) ([]string, error) {
	path := filepath.Join(root, target.Path)
	info, err := c.Fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext(err, "stat")
	}

	if target.Pattern == "" {
		return []string{path}, nil
	}
	if !info.IsDir() {
		return nil, nil
	}

	children, err := afero.ReadDir(c.Fs, path)
	if err != nil {
		return nil, errors.WithContext(err, "list")
	}

	var paths []string
	for _, child := range children {
		ok, err := filepath.Match(target.Pattern, child.Name())
		if err != nil {
			return nil, errors.WithContext(err, "match")
		}
		if ok {
			paths = append(paths, filepath.Join(path, child.Name()))
		}
	}
	return paths, nil
}

// size returns the total size of the files at or beneath `path`.
func (c Cleaner) size(path string) (total int64, err error) {
	err = afero.Walk(c.Fs, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
