package transfer

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"

	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
)

// NewHasher returns the hash used for manifest content digests.
func NewHasher() hash.Hash {
	return sha1.New()
}

// EncodeDigest formats a finished hasher the way manifests declare digests.
func EncodeDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile returns the content digest of the file at the given path. The file
// is streamed through the hasher rather than read into memory.
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := NewHasher()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}
	return EncodeDigest(hasher), nil
}
