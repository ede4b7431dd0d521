package transfer

import (
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
)

// Decision is the outcome of the staleness check for a single entry.
type Decision int

const (
	// Fetch means the local copy is missing or stale.
	Fetch Decision = iota

	// Skip means the local copy already matches the entry.
	Skip
)

// Tier names the evidence that a decision was based on.
type Tier string

const (
	// TierNone means there was nothing to compare, usually because the
	// local file is missing.
	TierNone Tier = "none"
	// TierCache means the previous local snapshot recorded the same digest.
	TierCache Tier = "cache"
	// TierSize means the decision came from comparing the local file size
	// with the declared size.
	TierSize Tier = "size"
	// TierHash means the decision came from hashing the local file.
	TierHash Tier = "hash"
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "fetch"
}

// Classify decides whether the file at `dest` needs to be fetched to satisfy
// `entry`, using the cheapest evidence that's conclusive:
//  1. The previous snapshot recorded the same digest for the path, and the
//     file still exists.
//  2. The declared size differs (fetch), or matches and there's no declared
//     digest (skip).
//  3. The digest of the local file matches the declared digest.
//
// `cached` is the entry from the previous snapshot, or nil.
func Classify(fs afero.Fs, dest string, entry manifest.FileEntry,
	cached *manifest.FileEntry) (Decision, Tier, error) {

	info, err := fs.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return Fetch, TierNone, nil
		}
		return Fetch, TierNone, errors.WithContext(err, "stat")
	}

	if info.IsDir() {
		return Fetch, TierNone, nil
	}

	if cached != nil && entry.SHA1 != "" && strings.EqualFold(cached.SHA1, entry.SHA1) {
		return Skip, TierCache, nil
	}

	if entry.Size != nil {
		if info.Size() != *entry.Size {
			return Fetch, TierSize, nil
		}
		if entry.SHA1 == "" {
			return Skip, TierSize, nil
		}
	}

	if entry.SHA1 == "" {
		return Fetch, TierNone, nil
	}

	digest, err := HashFile(fs, dest)
	if err != nil {
		return Fetch, TierHash, errors.WithContext(err, "hash")
	}
	if strings.EqualFold(digest, entry.SHA1) {
		return Skip, TierHash, nil
	}
	return Fetch, TierHash, nil
}
