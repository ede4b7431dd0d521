// Package bundle installs archive bundles: zip files carrying an index of
// files to download plus override trees that are copied into the target
// root.
package bundle

import (
	"encoding/json"

	"github.com/sidkik/packsync/pkg/manifest"
)

const (
	// IndexFileName is the index document at the root of every bundle.
	IndexFileName = "modrinth.index.json"

	// OverridesDir is the override tree applied for every environment.
	OverridesDir = "overrides"

	// DefaultEnvironment is the environment whose override tree and file
	// support flags are used when none is configured.
	DefaultEnvironment = "client"

	// envUnsupported marks files that must not be installed in an
	// environment.
	envUnsupported = "unsupported"
)

// Index is the embedded description of a bundle's contents.
type Index struct {
	FormatVersion int               `json:"formatVersion"`
	Game          string            `json:"game"`
	VersionID     string            `json:"versionId"`
	Name          string            `json:"name"`
	Summary       string            `json:"summary,omitempty"`
	Files         []FileEntry       `json:"files"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
}

// FileEntry is a file that the bundle installs by downloading it.
type FileEntry struct {
	Path               string            `json:"path"`
	Hashes             map[string]string `json:"hashes,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	DownloadCandidates []string          `json:"downloads"`
	FileSize           *int64            `json:"fileSize,omitempty"`
}

// ParseIndex decodes an index document.
func ParseIndex(data []byte) (Index, error) {
	var index Index
	err := json.Unmarshal(data, &index)
	return index, err
}

// EnvironmentOverridesDir returns the override tree specific to `env`.
func EnvironmentOverridesDir(env string) string {
	return env + "-overrides"
}

// Supports returns whether the file should be installed in `env`.
func (f FileEntry) Supports(env string) bool {
	return f.Env[env] != envUnsupported
}

// ManifestEntry converts the file into a manifest entry so that it can be
// installed by the transfer scheduler. Only the first download candidate is
// used.
func (f FileEntry) ManifestEntry() manifest.FileEntry {
	entry := manifest.FileEntry{
		Path: f.Path,
		SHA1: f.Hashes["sha1"],
		Size: f.FileSize,
	}
	if len(f.DownloadCandidates) > 0 {
		entry.URL = f.DownloadCandidates[0]
	}
	return entry
}
