package bundle

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/transfer"
)

// Installer installs bundles into a target root.
type Installer struct {
	Fs        afero.Fs
	Client    *http.Client
	Retrier   fsutil.Retrier
	Scheduler transfer.Scheduler
	Sink      events.Sink

	// InstallDir is where packsync itself is installed. Relative bundle
	// references are looked up here before the target root.
	InstallDir string

	// Environment selects the environment-specific override tree.
	Environment string

	// Preserved basenames are never replaced by override files.
	Preserved []string
}

// Result describes an installed bundle.
type Result struct {
	Ref       string
	Name      string
	VersionID string
	Files     transfer.Report

	// Installed are the entries that are now present in the target root.
	Installed []manifest.FileEntry

	// Overrides are the paths copied from the override trees, relative to
	// the target root.
	Overrides []string
}

// IsSkippable returns whether err only prevents the installation of a
// single bundle, rather than the whole sync.
func IsSkippable(err error) bool {
	var unresolvable errors.BundleUnresolvable
	var indexMissing errors.BundleIndexMissing
	var invalid errors.BundleInvalid
	return errors.As(err, &unresolvable) || errors.As(err, &indexMissing) ||
		errors.As(err, &invalid)
}

// Install resolves, extracts, and installs the bundle referenced by `ref`
// into `root`. The archive is extracted into a temporary directory that is
// always removed before returning.
func (i Installer) Install(root string, ref manifest.BundleRef,
	cache map[string]manifest.FileEntry) (Result, error) {

	result := Result{Ref: ref.Ref}
	fields := logrus.Fields{"bundle": ref.Ref}

	archivePath, release, err := i.resolve(root, ref)
	if err != nil {
		return result, err
	}
	defer release()

	if ref.SHA1 != "" {
		digest, err := transfer.HashFile(i.Fs, archivePath)
		if err != nil {
			return result, errors.WithContext(err, "hash archive")
		}
		if !strings.EqualFold(digest, ref.SHA1) {
			events.Warn(i.Sink, nil, "Bundle doesn't match its declared hash", logrus.Fields{
				"bundle":   ref.Ref,
				"expected": ref.SHA1,
				"actual":   digest,
			})
		}
	}

	tmpDir, err := afero.TempDir(i.Fs, "", "packsync-bundle-")
	if err != nil {
		return result, errors.WithContext(err, "create extraction directory")
	}
	defer func() {
		if err := i.Retrier.RemoveAll(i.Fs, tmpDir); err != nil {
			events.Warn(i.Sink, err, "Failed to remove extraction directory",
				logrus.Fields{"path": tmpDir})
		}
	}()

	if err := extract(i.Fs, archivePath, tmpDir); err != nil {
		return result, errors.BundleInvalid{Ref: ref.Ref, Reason: err.Error()}
	}

	index, err := i.readIndex(ref, tmpDir)
	if err != nil {
		return result, err
	}
	result.Name = index.Name
	result.VersionID = index.VersionID
	events.Info(i.Sink, "Installing bundle", logrus.Fields{
		"bundle":  ref.Ref,
		"name":    index.Name,
		"version": index.VersionID,
	})

	tasks := i.tasks(root, index)
	report, err := i.Scheduler.Run("bundle "+index.Name, tasks, cache)
	result.Files = report
	if err != nil {
		return result, errors.WithContext(err, "install files")
	}
	result.Installed = installed(tasks, report)

	for _, tree := range []string{OverridesDir, EnvironmentOverridesDir(i.environment())} {
		applied, err := i.applyOverrides(filepath.Join(tmpDir, tree), root)
		if err != nil {
			return result, errors.WithContext(err, fmt.Sprintf("apply %s", tree))
		}
		result.Overrides = appendUnique(result.Overrides, applied...)
	}

	events.Info(i.Sink, "Installed bundle", fields)
	return result, nil
}

// resolve finds the archive referenced by `ref`. Remote archives are
// downloaded to a temporary file, which is removed by the returned release
// function.
func (i Installer) resolve(root string, ref manifest.BundleRef) (string, func(), error) {
	noop := func() {}

	if isRemote(ref.Ref) {
		archivePath, err := i.download(ref.Ref)
		if err != nil {
			events.Warn(i.Sink, err, "Failed to download bundle", logrus.Fields{"bundle": ref.Ref})
			return "", noop, errors.BundleUnresolvable{Ref: ref.Ref, Tried: []string{ref.Ref}}
		}
		release := func() {
			if err := i.Fs.Remove(archivePath); err != nil && !os.IsNotExist(err) {
				events.Warn(i.Sink, err, "Failed to remove downloaded bundle",
					logrus.Fields{"path": archivePath})
			}
		}
		return archivePath, release, nil
	}

	var candidates []string
	local := filepath.FromSlash(ref.Ref)
	if filepath.IsAbs(local) {
		candidates = []string{local}
	} else {
		if i.InstallDir != "" {
			candidates = append(candidates, filepath.Join(i.InstallDir, local))
		}
		candidates = append(candidates, filepath.Join(root, local))
	}

	for _, candidate := range candidates {
		info, err := i.Fs.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			events.Debug(i.Sink, "Resolved bundle", logrus.Fields{
				"bundle": ref.Ref,
				"path":   candidate,
			})
			return candidate, noop, nil
		}
	}
	return "", noop, errors.BundleUnresolvable{Ref: ref.Ref, Tried: candidates}
}

func (i Installer) download(url string) (string, error) {
	body, err := transfer.Get(i.Client, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := afero.TempFile(i.Fs, "", "packsync-bundle-*.mrpack")
	if err != nil {
		return "", errors.WithContext(err, "create temp file")
	}

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		i.Fs.Remove(tmp.Name())
		return "", errors.WithContext(err, "download")
	}

	if err := tmp.Close(); err != nil {
		i.Fs.Remove(tmp.Name())
		return "", errors.WithContext(err, "close")
	}
	return tmp.Name(), nil
}

func (i Installer) readIndex(ref manifest.BundleRef, dir string) (Index, error) {
	data, err := afero.ReadFile(i.Fs, filepath.Join(dir, IndexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Index{}, errors.BundleIndexMissing{Ref: ref.Ref}
		}
		return Index{}, errors.WithContext(err, "read index")
	}

	index, err := ParseIndex(data)
	if err != nil {
		return Index{}, errors.BundleInvalid{Ref: ref.Ref, Reason: "parse index: " + err.Error()}
	}
	return index, nil
}

func (i Installer) tasks(root string, index Index) []transfer.Task {
	env := i.environment()

	var tasks []transfer.Task
	for _, f := range index.Files {
		fields := logrus.Fields{"bundle": index.Name, "path": f.Path}
		switch {
		case !f.Supports(env):
			events.Debug(i.Sink, "File not supported in this environment. Skipping", fields)
			continue
		case manifest.ValidatePath(f.Path) != nil:
			events.Warn(i.Sink, manifest.ValidatePath(f.Path), "Invalid bundle file path. Skipping", fields)
			continue
		case len(f.DownloadCandidates) == 0:
			events.Warn(i.Sink, nil, "Bundle file has no downloads. Skipping", fields)
			continue
		}

		tasks = append(tasks, transfer.Task{
			Entry: f.ManifestEntry(),
			Dest:  filepath.Join(root, filepath.FromSlash(f.Path)),
		})
	}
	return tasks
}

// applyOverrides copies every file in `tree` into the same relative location
// in `root`, replacing existing files. Preserved files that already exist
// are left alone.
func (i Installer) applyOverrides(tree, root string) ([]string, error) {
	if exists, err := fsutil.Exists(i.Fs, tree); err != nil || !exists {
		return nil, err
	}

	var applied []string
	err := afero.Walk(i.Fs, tree, func(src string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk")
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(tree, src)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}
		dest := filepath.Join(root, rel)
		relSlash := filepath.ToSlash(rel)

		if i.isPreserved(path.Base(relSlash)) {
			exists, err := fsutil.Exists(i.Fs, dest)
			if err != nil {
				return errors.WithContext(err, "stat")
			}
			if exists {
				events.Info(i.Sink, "Keeping user file", logrus.Fields{"path": relSlash})
				return nil
			}
		}

		if err := i.copyFile(src, dest); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", relSlash))
		}
		applied = append(applied, relSlash)
		return nil
	})
	return applied, err
}

func (i Installer) copyFile(src, dest string) error {
	in, err := i.Fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer in.Close()

	_, err = fsutil.WriteAtomic(i.Fs, i.Retrier, dest, in, nil)
	return err
}

func (i Installer) environment() string {
	if i.Environment == "" {
		return DefaultEnvironment
	}
	return i.Environment
}

func (i Installer) isPreserved(basename string) bool {
	for _, name := range i.Preserved {
		if name == basename {
			return true
		}
	}
	return false
}

// installed returns the entries of the tasks that weren't skipped.
func installed(tasks []transfer.Task, report transfer.Report) []manifest.FileEntry {
	absent := map[string]struct{}{}
	for _, p := range append(append([]string{}, report.Missing...), report.Failed...) {
		absent[p] = struct{}{}
	}

	var entries []manifest.FileEntry
	for _, task := range tasks {
		if _, ok := absent[task.Entry.Path]; !ok {
			entries = append(entries, task.Entry)
		}
	}
	return entries
}

func appendUnique(list []string, items ...string) []string {
	seen := map[string]struct{}{}
	for _, item := range list {
		seen[item] = struct{}{}
	}
	for _, item := range items {
		if _, ok := seen[item]; !ok {
			list = append(list, item)
			seen[item] = struct{}{}
		}
	}
	return list
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
