package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch watches for changes anywhere under `dir`. It sends an event on the
// returned channel whenever a file within the directory tree changes. Bursts
// of changes are combined into a single event. The returned function stops
// watching.
func Watch(dir string) (<-chan struct{}, func(), error) {
	pathsToWatch, err := getPathsToWatch(dir)
	if err != nil {
		return nil, nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	stop := func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			stop()
			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	go func() {
		for err := range watcher.Errors {
			log.WithError(err).Debug("File watcher error")
		}
	}()

	// Because fsnotify doesn't watch directories recursively, directories
	// created after the watch started have to be added explicitly.
	watchCreated := func(event fsnotify.Event) {
		if !event.Has(fsnotify.Create) {
			return
		}

		created, err := getPathsToWatch(event.Name)
		if err != nil {
			return
		}
		for _, path := range created {
			if err := watcher.Add(path); err != nil {
				log.WithError(err).WithField("path", path).Debug("Failed to watch new directory")
			}
		}
	}
	return combineUpdates(watcher.Events, watchCreated), stop, nil
}

func combineUpdates(updates <-chan fsnotify.Event, onEvent func(fsnotify.Event)) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		defer close(combined)
		for event := range updates {
			if onEvent != nil {
				onEvent(event)
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getPathsToWatch returns `root` and every directory beneath it. Changes to
// files are reported through the watch on their parent directory. If `root`
// is a file, nothing needs to be watched.
func getPathsToWatch(root string) (paths []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, nil
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
