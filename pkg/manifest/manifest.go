// Package manifest defines the remote description of a synchronized file
// tree, and how it is fetched, validated, and snapshotted locally.
package manifest

import (
	"fmt"
	"path"
	"strings"

	"github.com/sidkik/packsync/pkg/errors"
)

// Manifest is the desired state of a target root.
type Manifest struct {
	Version           string      `json:"version"`
	PlatformVersionID string      `json:"gameVersion"`
	LauncherVersion   string      `json:"launcherVersion,omitempty"`
	LauncherURL       string      `json:"launcherUrl,omitempty"`
	SourceBaseURL     string      `json:"baseUrl,omitempty"`
	Files             []FileEntry `json:"files"`
	Bundles           []BundleRef `json:"bundles,omitempty"`

	// InstalledBundleFiles is only set on local snapshots. It records the
	// entries installed from bundles so that the next sync can skip them
	// without hashing.
	InstalledBundleFiles []FileEntry `json:"installedBundleFiles,omitempty"`

	// InstalledOverrides is only set on local snapshots. It lists the paths
	// copied from bundle override trees, which have no declared digest.
	InstalledOverrides []string `json:"installedOverrides,omitempty"`
}

// FileEntry is a single file that should exist in the target root.
type FileEntry struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
	SHA1 string `json:"sha1,omitempty"`
	Size *int64 `json:"size,omitempty"`
}

// BundleRef points at an archive bundle. Ref is either an http(s) URL or a
// relative path.
type BundleRef struct {
	Ref  string `json:"ref"`
	SHA1 string `json:"sha1,omitempty"`
}

// Size returns a pointer to the given size, for building entries.
func Size(n int64) *int64 {
	return &n
}

// Validate checks that the manifest can be applied, and fills in entry URLs
// relative to SourceBaseURL.
func (m *Manifest) Validate() error {
	if m.PlatformVersionID == "" {
		return errors.MissingFieldError{Field: "gameVersion"}
	}
	if m.Files == nil {
		return errors.MissingFieldError{Field: "files"}
	}

	seen := map[string]struct{}{}
	for i, f := range m.Files {
		if err := ValidatePath(f.Path); err != nil {
			return errors.WithContext(err, fmt.Sprintf("file %d", i))
		}
		if _, ok := seen[f.Path]; ok {
			return fmt.Errorf("duplicate path %q", f.Path)
		}
		seen[f.Path] = struct{}{}

		if f.URL == "" {
			if m.SourceBaseURL == "" {
				return fmt.Errorf("%q has no url and the manifest has no baseUrl", f.Path)
			}
			m.Files[i].URL = strings.TrimSuffix(m.SourceBaseURL, "/") + "/" + f.Path
		}
	}

	for i, b := range m.Bundles {
		if b.Ref == "" {
			return errors.WithContext(errors.MissingFieldError{Field: "ref"},
				fmt.Sprintf("bundle %d", i))
		}
	}
	return nil
}

// Index returns the entries keyed by path, including entries installed from
// bundles. It's used to seed the cache tier of the staleness check.
func (m *Manifest) Index() map[string]FileEntry {
	index := map[string]FileEntry{}
	if m == nil {
		return index
	}
	for _, f := range m.Files {
		index[f.Path] = f
	}
	for _, f := range m.InstalledBundleFiles {
		index[f.Path] = f
	}
	return index
}

// ValidatePath checks that a manifest path is relative and stays inside the
// target root. Manifest paths always use forward slashes.
func ValidatePath(p string) error {
	if p == "" {
		return errors.MissingFieldError{Field: "path"}
	}

	normalized := strings.ReplaceAll(p, "\\", "/")
	hasVolume := len(normalized) >= 2 && normalized[1] == ':'
	if path.IsAbs(normalized) || hasVolume {
		return fmt.Errorf("path %q must be relative", p)
	}

	clean := path.Clean(normalized)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the target root", p)
	}
	return nil
}
