package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/fsutil"
)

// CacheFileName is the name of the snapshot of the last applied manifest,
// relative to the target root.
const CacheFileName = "client-manifest.json"

// CachePath returns the path of the snapshot for the given target root.
func CachePath(root string) string {
	return filepath.Join(root, CacheFileName)
}

// ReadCache reads the snapshot of the last manifest applied to `root`. It
// returns nil without an error if no snapshot exists.
func ReadCache(fs afero.Fs, root string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, CachePath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext(err, "read")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WithContext(err, "parse")
	}
	return &m, nil
}

// WriteCache atomically replaces the snapshot for `root` with `m`.
func WriteCache(fs afero.Fs, retrier fsutil.Retrier, root string, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fsutil.WriteFileAtomic(fs, retrier, CachePath(root), data); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
