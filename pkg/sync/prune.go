package sync

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
	"github.com/sidkik/packsync/pkg/manifest"
)

const (
	// DefaultModsDir is the mutable subdirectory that's pruned, relative to
	// the target root.
	DefaultModsDir = "mods"

	// DefaultAdminMarker disables pruning when it exists in the target root.
	DefaultAdminMarker = ".admin"
)

// Pruner removes files from the mutable subdirectory that the manifest no
// longer declares.
type Pruner struct {
	Fs          afero.Fs
	Retrier     fsutil.Retrier
	Sink        events.Sink
	ModsDir     string
	AdminMarker string
	Preserved   []string
}

// Prune removes every entry of the mods directory whose basename isn't
// declared by a manifest entry under that directory. It returns the removed
// basenames. Nothing is removed if the admin marker exists in `root`.
// Entries that can't be removed are reported as warnings.
func (p Pruner) Prune(root string, m manifest.Manifest) ([]string, error) {
	if p.AdminMarker != "" {
		isAdmin, err := fsutil.Exists(p.Fs, filepath.Join(root, p.AdminMarker))
		if err != nil {
			return nil, errors.WithContext(err, "check admin marker")
		}
		if isAdmin {
			events.Info(p.Sink, "Admin marker found. Skipping removal of old files",
				logrus.Fields{"marker": p.AdminMarker})
			return nil, nil
		}
	}

	modsDir := filepath.Join(root, filepath.FromSlash(p.ModsDir))
	infos, err := afero.ReadDir(p.Fs, modsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext(err, "list")
	}

	declared := p.declared(m)
	var removed []string
	for _, info := range infos {
		name := info.Name()
		if _, ok := declared[name]; ok {
			continue
		}

		fields := logrus.Fields{"path": path.Join(p.ModsDir, name)}
		if p.isPreserved(name) {
			events.Debug(p.Sink, "Keeping user file", fields)
			continue
		}

		events.Info(p.Sink, "Removing old file", fields)
		if err := p.Retrier.RemoveAll(p.Fs, filepath.Join(modsDir, name)); err != nil {
			events.Warn(p.Sink, err, "Failed to remove old file", fields)
			continue
		}
		removed = append(removed, name)
	}

	sort.Strings(removed)
	return removed, nil
}

// declared returns the basenames of the manifest entries under the mods
// directory. Files installed from bundles, including their overrides, count
// as declared.
func (p Pruner) declared(m manifest.Manifest) map[string]struct{} {
	prefix := strings.Trim(filepath.ToSlash(p.ModsDir), "/") + "/"

	var paths []string
	for _, f := range append(append([]manifest.FileEntry{}, m.Files...), m.InstalledBundleFiles...) {
		paths = append(paths, f.Path)
	}
	paths = append(paths, m.InstalledOverrides...)

	names := map[string]struct{}{}
	for _, entry := range paths {
		entryPath := path.Clean(strings.ReplaceAll(entry, "\\", "/"))
		if strings.HasPrefix(entryPath, prefix) {
			names[path.Base(entryPath)] = struct{}{}
		}
	}
	return names
}

func (p Pruner) isPreserved(basename string) bool {
	for _, name := range p.Preserved {
		if name == basename {
			return true
		}
	}
	return false
}
