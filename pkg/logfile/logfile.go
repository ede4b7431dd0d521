// Package logfile persists log entries to a file in the game root, so that
// syncs run by a launcher can be debugged after the fact.
package logfile

import (
	"io"
	"os"
	"path/filepath"
	goSync "sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/version"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// FileName is the name of the log file within the logs directory of the
// game root.
const FileName = "packsync.log"

// formatter writes one JSON object per line.
var formatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "message",
	},
}

// Path returns the path of the log file for the given game root.
func Path(gameRoot string) string {
	return filepath.Join(gameRoot, "logs", FileName)
}

// Hook appends log entries to the log file.
type Hook struct {
	levels []logrus.Level

	mu  goSync.Mutex
	out io.WriteCloser
}

// NewHook opens the log file in `gameRoot` for appending. Debug entries are
// only written if `verbose` is set.
func NewHook(gameRoot string, verbose bool) (*Hook, error) {
	path := Path(gameRoot)
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create logs directory")
	}

	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open")
	}

	levels := []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel,
		logrus.WarnLevel, logrus.InfoLevel}
	if verbose {
		levels = logrus.AllLevels
	}
	return &Hook{levels: levels, out: f}, nil
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	dataCopy := logrus.Fields{"packsync-version": version.Version}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that the version field doesn't show up in other
	// outputs.
	entryCopy := *entry
	entryCopy.Data = dataCopy

	line, err := formatter.Format(&entryCopy)
	if err != nil {
		// Never return an error because doing so causes the error to be
		// printed directly to `stderr`.
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.Write(line)
	return nil
}

// Close closes the log file.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.Close()
}
