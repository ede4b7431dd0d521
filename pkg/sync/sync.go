package sync

import (
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/bundle"
	"github.com/sidkik/packsync/pkg/descriptor"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/transfer"
	"github.com/sidkik/packsync/pkg/version"
)

// Options configures a single sync.
type Options struct {
	// Root is the target root that's synced.
	Root        string
	ManifestURL string

	// ModsDir is the pruned directory, relative to Root.
	ModsDir string

	// VersionsDir is the descriptor store. It defaults to Root/versions.
	VersionsDir string

	// InstallDir is where packsync is installed. Relative bundle references
	// are resolved against it before Root.
	InstallDir  string
	Environment string

	Concurrency   int
	ProgressEvery int
	Preserved     []string
	AdminMarker   string

	// MirrorDir, if set, is a local copy of the remote files that's used
	// instead of downloading them. Files missing from the mirror are
	// downloaded if MirrorFallback is set.
	MirrorDir      string
	MirrorFallback bool

	LoaderMetaURL   string
	VersionIndexURL string

	// LauncherVersion is the version of the running binary. Newer launcher
	// versions advertised by the manifest are reported.
	LauncherVersion string
}

// Engine runs syncs. It keeps no state between them.
type Engine struct {
	Fs     afero.Fs
	Client *http.Client
	Clock  clockwork.Clock
	Sink   events.Sink
}

// Context is the state of a sync in progress.
type Context struct {
	RunID    string
	Options  Options
	Cache    *manifest.Manifest
	Manifest manifest.Manifest
	ID       descriptor.ID
	Sink     events.Sink
}

// Status is how a sync ended.
type Status int

const (
	// Completed means that every phase ran.
	Completed Status = iota

	// Skipped means that the manifest couldn't be fetched, so the target
	// root wasn't touched.
	Skipped
)

func (s Status) String() string {
	if s == Skipped {
		return "skipped"
	}
	return "completed"
}

// Result summarizes a sync.
type Result struct {
	RunID  string
	Status Status

	Manifest manifest.Manifest
	Removed  []string
	Files    transfer.Report
	Bundles  []bundle.Result

	// DescriptorInstalled is whether the version descriptor was written by
	// this sync.
	DescriptorInstalled bool

	// LauncherUpdate is the newer launcher version advertised by the
	// manifest, if there is one.
	LauncherUpdate string
}

// Sync brings opts.Root into conformance with the manifest at
// opts.ManifestURL.
func (e Engine) Sync(opts Options) (Result, error) {
	opts = withDefaults(opts)
	runID := uuid.New().String()
	sink := events.WithFields(e.sink(), logrus.Fields{"run": runID})
	result := Result{RunID: runID}

	if err := e.Fs.MkdirAll(opts.Root, 0755); err != nil {
		return result, errors.WithContext(err, "create target root")
	}

	ctx := Context{RunID: runID, Options: opts, Sink: sink}
	cache, err := manifest.ReadCache(e.Fs, opts.Root)
	if err != nil {
		events.Warn(sink, err, "Ignoring unreadable manifest snapshot",
			logrus.Fields{"path": manifest.CachePath(opts.Root)})
	}
	ctx.Cache = cache

	events.Info(sink, "Fetching manifest", logrus.Fields{"url": opts.ManifestURL})
	fetcher := manifest.Fetcher{Client: e.Client, Clock: e.clock()}
	ctx.Manifest, err = fetcher.Fetch(opts.ManifestURL)
	if err != nil {
		var unreachable errors.ManifestUnreachable
		if errors.As(err, &unreachable) {
			msg := "Manifest unreachable. Skipping sync"
			fields := logrus.Fields{"url": opts.ManifestURL}
			switch {
			case unreachable.NotFound():
				msg = "Manifest not found. Skipping sync"
				fields["status"] = unreachable.StatusCode
			case unreachable.StatusCode != 0:
				msg = "Manifest server error. Skipping sync"
				fields["status"] = unreachable.StatusCode
			}
			events.Warn(sink, err, msg, fields)
			result.Status = Skipped
			return result, nil
		}
		return result, err
	}
	result.Manifest = ctx.Manifest

	ctx.ID, err = descriptor.ParseID(ctx.Manifest.PlatformVersionID)
	if err != nil {
		return result, err
	}

	result.LauncherUpdate = launcherUpdate(sink, opts.LauncherVersion, ctx.Manifest)

	result.Removed = e.prune(ctx)

	result.Files, err = e.scheduler(ctx).Run("files", e.tasks(ctx), ctx.Cache.Index())
	if err != nil {
		return result, errors.WithContext(err, "transfer files")
	}

	result.Bundles, err = e.installBundles(ctx)
	if err != nil {
		return result, err
	}

	result.DescriptorInstalled, err = e.patcher(ctx).Ensure(ctx.ID)
	if err != nil {
		return result, errors.WithContext(err, "install version descriptor")
	}

	snapshot := newSnapshot(ctx.Manifest, result)
	if err := manifest.WriteCache(e.Fs, e.retrier(), opts.Root, snapshot); err != nil {
		events.Warn(sink, err, "Failed to save manifest snapshot",
			logrus.Fields{"path": manifest.CachePath(opts.Root)})
	}

	events.Info(sink, "Sync complete", logrus.Fields{
		"version":     ctx.Manifest.Version,
		"transferred": len(result.Files.Transferred),
		"removed":     len(result.Removed),
	})
	return result, nil
}

func (e Engine) prune(ctx Context) []string {
	// Files installed from bundles by the previous sync aren't declared by
	// the manifest itself, but still belong in the mods directory.
	declared := ctx.Manifest
	declared.InstalledBundleFiles = nil
	declared.InstalledOverrides = nil
	if ctx.Cache != nil {
		declared.InstalledBundleFiles = ctx.Cache.InstalledBundleFiles
		declared.InstalledOverrides = ctx.Cache.InstalledOverrides
	}

	pruner := Pruner{
		Fs:          e.Fs,
		Retrier:     e.retrier(),
		Sink:        ctx.Sink,
		ModsDir:     ctx.Options.ModsDir,
		AdminMarker: ctx.Options.AdminMarker,
		Preserved:   ctx.Options.Preserved,
	}
	removed, err := pruner.Prune(ctx.Options.Root, declared)
	if err != nil {
		events.Warn(ctx.Sink, err, "Failed to remove old files", nil)
	}
	return removed
}

// newSnapshot returns the manifest that's recorded locally after a sync.
// Entries that couldn't be fetched are left out, so that the next sync
// doesn't trust whatever is on disk for them.
func newSnapshot(m manifest.Manifest, result Result) manifest.Manifest {
	absent := map[string]struct{}{}
	for _, path := range append(append([]string{}, result.Files.Missing...), result.Files.Failed...) {
		absent[path] = struct{}{}
	}

	snapshot := m
	snapshot.Files = []manifest.FileEntry{}
	for _, f := range m.Files {
		if _, ok := absent[f.Path]; !ok {
			snapshot.Files = append(snapshot.Files, f)
		}
	}

	snapshot.InstalledBundleFiles = nil
	snapshot.InstalledOverrides = nil
	for _, b := range result.Bundles {
		snapshot.InstalledBundleFiles = append(snapshot.InstalledBundleFiles, b.Installed...)
		snapshot.InstalledOverrides = append(snapshot.InstalledOverrides, b.Overrides...)
	}
	return snapshot
}

func (e Engine) tasks(ctx Context) []transfer.Task {
	var tasks []transfer.Task
	for _, f := range ctx.Manifest.Files {
		tasks = append(tasks, transfer.Task{
			Entry: f,
			Dest:  filepath.Join(ctx.Options.Root, filepath.FromSlash(f.Path)),
		})
	}
	return tasks
}

func (e Engine) installBundles(ctx Context) ([]bundle.Result, error) {
	installer := bundle.Installer{
		Fs:          e.Fs,
		Client:      e.Client,
		Retrier:     e.retrier(),
		Scheduler:   e.scheduler(ctx),
		Sink:        ctx.Sink,
		InstallDir:  ctx.Options.InstallDir,
		Environment: ctx.Options.Environment,
		Preserved:   ctx.Options.Preserved,
	}

	cache := ctx.Cache.Index()
	var results []bundle.Result
	for _, ref := range ctx.Manifest.Bundles {
		result, err := installer.Install(ctx.Options.Root, ref, cache)
		if err != nil {
			if bundle.IsSkippable(err) {
				events.Warn(ctx.Sink, err, "Failed to install bundle. Skipping",
					logrus.Fields{"bundle": ref.Ref})
				continue
			}
			return results, errors.WithContext(err, "install bundle "+ref.Ref)
		}
		results = append(results, result)
	}
	return results, nil
}

func (e Engine) scheduler(ctx Context) transfer.Scheduler {
	scheduler := transfer.NewScheduler(e.Fs, e.source(ctx.Options), e.clock(), ctx.Sink)
	scheduler.Concurrency = ctx.Options.Concurrency
	scheduler.ProgressEvery = ctx.Options.ProgressEvery
	scheduler.Preserved = ctx.Options.Preserved
	return scheduler
}

func (e Engine) source(opts Options) transfer.Source {
	remote := transfer.RemoteSource{Client: e.Client}
	if opts.MirrorDir == "" {
		return remote
	}

	mirror := transfer.LocalMirrorSource{Fs: e.Fs, Dir: opts.MirrorDir}
	if opts.MirrorFallback {
		mirror.Fallback = remote
	}
	return mirror
}

func (e Engine) patcher(ctx Context) descriptor.Patcher {
	return descriptor.Patcher{
		Fs:              e.Fs,
		Client:          e.Client,
		Retrier:         e.retrier(),
		Sink:            ctx.Sink,
		Dir:             ctx.Options.VersionsDir,
		LoaderMetaURL:   ctx.Options.LoaderMetaURL,
		VersionIndexURL: ctx.Options.VersionIndexURL,
	}
}

func (e Engine) retrier() fsutil.Retrier {
	return fsutil.NewRetrier(e.clock())
}

func (e Engine) clock() clockwork.Clock {
	if e.Clock == nil {
		return clockwork.NewRealClock()
	}
	return e.Clock
}

func (e Engine) sink() events.Sink {
	if e.Sink == nil {
		return events.Discard
	}
	return e.Sink
}

func withDefaults(opts Options) Options {
	if opts.ModsDir == "" {
		opts.ModsDir = DefaultModsDir
	}
	if opts.VersionsDir == "" {
		opts.VersionsDir = filepath.Join(opts.Root, "versions")
	}
	if opts.Environment == "" {
		opts.Environment = bundle.DefaultEnvironment
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = transfer.DefaultConcurrency
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 1
	}
	if opts.Preserved == nil {
		opts.Preserved = transfer.DefaultPreserved
	}
	if opts.AdminMarker == "" {
		opts.AdminMarker = DefaultAdminMarker
	}
	return opts
}

// launcherUpdate returns the launcher version advertised by the manifest if
// it's newer than `running`.
func launcherUpdate(sink events.Sink, running string, m manifest.Manifest) string {
	if m.LauncherVersion == "" || running == "" {
		return ""
	}

	outdated, err := version.IsOutdated(running, m.LauncherVersion)
	if err != nil {
		events.Debug(sink, "Failed to compare launcher versions", logrus.Fields{
			"current":       running,
			"latest":        m.LauncherVersion,
			logrus.ErrorKey: err,
		})
		return ""
	}
	if !outdated {
		return ""
	}

	events.Info(sink, "A new version of packsync is available", logrus.Fields{
		"current": running,
		"latest":  m.LauncherVersion,
		"url":     m.LauncherURL,
	})
	return m.LauncherVersion
}
