package fsutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
)

// Exists returns whether anything exists at path.
func Exists(fs afero.Fs, path string) (bool, error) {
	_, err := fs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// WriteAtomic streams src into a temporary file next to dest, and then
// renames it into place. dest is either fully replaced or left untouched. The
// temporary file is removed if anything fails. Each chunk of src is also
// written to `tee`, if it's non-nil, so that callers can hash the contents
// without reading the file again.
func WriteAtomic(fs afero.Fs, retrier Retrier, dest string, src io.Reader, tee io.Writer) (int64, error) {
	dir := filepath.Dir(dest)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return 0, errors.WithContext(err, "create parent directory")
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, errors.WithContext(err, "create temp file")
	}
	tmpPath := tmp.Name()

	removeTmp := func() {
		if err := fs.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("path", tmpPath).Warn("Failed to remove partial file")
		}
	}

	var w io.Writer = tmp
	if tee != nil {
		w = io.MultiWriter(tmp, tee)
	}

	n, err := io.Copy(w, src)
	if err != nil {
		tmp.Close()
		removeTmp()
		return n, errors.WithContext(err, "write")
	}

	if err := tmp.Close(); err != nil {
		removeTmp()
		return n, errors.WithContext(err, "close")
	}

	if err := retrier.Rename(fs, tmpPath, dest); err != nil {
		removeTmp()
		return n, errors.WithContext(err, "rename")
	}
	return n, nil
}

// WriteFileAtomic is WriteAtomic for in-memory contents.
func WriteFileAtomic(fs afero.Fs, retrier Retrier, dest string, contents []byte) error {
	_, err := WriteAtomic(fs, retrier, dest, bytes.NewReader(contents), nil)
	return err
}
