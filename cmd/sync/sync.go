package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fswatch"
	"github.com/sidkik/packsync/pkg/netutil"
	packsync "github.com/sidkik/packsync/pkg/sync"
	"github.com/sidkik/packsync/pkg/version"
)

// pollInterval is how often watch mode syncs even if no changes were
// detected.
const pollInterval = 15 * time.Second

type flags struct {
	instance    string
	all         bool
	manifestURL string
	root        string
	watch       bool
}

// target is a single root that's synced by the command.
type target struct {
	name string
	opts packsync.Options
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring instances up to date with their manifests",
		Long: "Download the files that changed since the last sync, remove the " +
			"ones that\nare no longer published, install bundles, and install the " +
			"version descriptor.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(f); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&f.instance, "instance", "i", "", "the instance to sync")
	cmd.Flags().BoolVar(&f.all, "all", false, "sync every enabled instance")
	cmd.Flags().StringVar(&f.manifestURL, "manifest-url", "",
		"sync from this manifest rather than a configured instance")
	cmd.Flags().StringVar(&f.root, "root", "",
		"the directory to sync into when using --manifest-url")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false,
		"keep syncing whenever the mirror directory changes")
	return cmd
}

func run(f flags) error {
	userConfig, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	targets, err := getTargets(userConfig, f)
	if err != nil {
		return err
	}

	engine := packsync.Engine{
		Fs:     afero.NewOsFs(),
		Client: netutil.NewClient(netutil.DefaultTimeouts),
		Clock:  clockwork.NewRealClock(),
		Sink: events.Multi(
			util.NewProgressPrinter(os.Stdout),
			events.LogrusSink{Logger: log.StandardLogger()},
		),
	}
	syncAll := func() error {
		return syncTargets(os.Stdout, engine, targets)
	}

	if !f.watch {
		return syncAll()
	}
	watch(userConfig.Mirror.Dir, clockwork.NewRealClock(), syncAll, nil)
	return nil
}

// getTargets returns the roots selected by the command line flags.
func getTargets(userConfig config.User, f flags) ([]target, error) {
	base := baseOptions(userConfig)

	if f.manifestURL != "" {
		if f.instance != "" || f.all {
			return nil, errors.NewFriendlyError(
				"--manifest-url can't be combined with --instance or --all.")
		}

		base.ManifestURL = f.manifestURL
		base.Root = userConfig.GameRoot
		if f.root != "" {
			root, err := filepath.Abs(f.root)
			if err != nil {
				return nil, errors.WithContext(err, "resolve root")
			}
			base.Root = root
			base.VersionsDir = ""
		}
		return []target{{name: f.manifestURL, opts: base}}, nil
	}

	if f.root != "" {
		return nil, errors.NewFriendlyError(
			"--root can only be used together with --manifest-url.")
	}

	var instances []config.Instance
	switch {
	case f.all && f.instance != "":
		return nil, errors.NewFriendlyError("--all can't be combined with --instance.")
	case f.all:
		instances = userConfig.EnabledInstances()
		if len(instances) == 0 {
			return nil, errors.NewFriendlyError(
				"No enabled instances are defined in the packsync config.")
		}
	case f.instance != "":
		inst, err := userConfig.Instance(f.instance)
		if err != nil {
			return nil, err
		}
		instances = []config.Instance{inst}
	case len(userConfig.Instances) == 1:
		instances = userConfig.Instances
	default:
		return nil, errors.NewFriendlyError(
			"Specify the instance to sync with --instance, or use --all to sync " +
				"every enabled instance.\n" +
				"Run `packsync instances` to list the configured instances.")
	}

	var targets []target
	for _, inst := range instances {
		opts := base
		opts.ManifestURL = inst.ManifestURL
		opts.Root = userConfig.Root(inst)
		opts.ModsDir = inst.ModsDir
		targets = append(targets, target{name: inst.ID, opts: opts})
	}
	return targets, nil
}

// baseOptions returns the sync options shared by every instance.
func baseOptions(userConfig config.User) packsync.Options {
	return packsync.Options{
		VersionsDir:     userConfig.VersionsDir,
		InstallDir:      installDir(),
		Environment:     userConfig.Environment,
		Concurrency:     userConfig.Concurrency,
		ProgressEvery:   userConfig.ProgressEvery,
		Preserved:       userConfig.Preserved,
		MirrorDir:       userConfig.Mirror.Dir,
		MirrorFallback:  userConfig.Mirror.Fallback,
		LoaderMetaURL:   userConfig.Endpoints.LoaderMeta,
		VersionIndexURL: userConfig.Endpoints.VersionIndex,
		LauncherVersion: version.Version,
	}
}

// installDir returns the directory containing the packsync binary. Bundles
// shipped next to the binary are found there.
func installDir() string {
	exe, err := os.Executable()
	if err != nil {
		log.WithError(err).Debug("Failed to get executable path")
		return ""
	}
	return filepath.Dir(exe)
}

type syncer interface {
	Sync(packsync.Options) (packsync.Result, error)
}

// syncTargets syncs each target in turn. A failed target doesn't stop the
// others from being synced, but the first failure is returned.
func syncTargets(out io.Writer, engine syncer, targets []target) error {
	var firstErr error
	for _, t := range targets {
		result, err := engine.Sync(t.opts)
		if err != nil {
			err = errors.WithContext(err, fmt.Sprintf("sync %s", t.name))
			if len(targets) > 1 {
				log.WithError(err).Error("Sync failed")
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		printResult(out, t.name, result)
	}
	return firstErr
}

func printResult(out io.Writer, name string, result packsync.Result) {
	if result.Status == packsync.Skipped {
		fmt.Fprintf(out, "%s: skipped, the manifest couldn't be fetched\n", name)
		return
	}

	fmt.Fprintf(out, "%s: synced version %s (%d transferred, %d up to date, "+
		"%d removed)\n", name, result.Manifest.Version,
		len(result.Files.Transferred), len(result.Files.Unchanged), len(result.Removed))
	for _, b := range result.Bundles {
		fmt.Fprintf(out, "  bundle %s: %d files installed\n", b.Ref, len(b.Installed))
	}
	if failed := len(result.Files.Missing) + len(result.Files.Failed); failed != 0 {
		fmt.Fprintf(out, "  %d files couldn't be downloaded. See the log for details.\n", failed)
	}
	if result.LauncherUpdate != "" {
		fmt.Fprintf(out, "  packsync %s is available at %s\n",
			result.LauncherUpdate, result.Manifest.LauncherURL)
	}
}

// watch syncs whenever `dir` changes, and every pollInterval. If `dir` can't
// be watched, it only polls.
func watch(dir string, clock clockwork.Clock, syncAll func() error, done <-chan struct{}) {
	var changes <-chan struct{}
	if dir == "" {
		log.Info("No mirror directory is configured. Polling for changes")
	} else {
		watched, stop, err := fswatch.Watch(dir)
		if err != nil {
			log.WithError(err).WithField("dir", dir).Warn(
				"Failed to watch mirror directory. Falling back to polling")
		} else {
			defer stop()
			changes = watched
		}
	}
	syncLoop(clock, changes, syncAll, done)
}

// syncLoop runs syncAll immediately, and then after each change or poll
// interval. Syncs run on this goroutine, so they never overlap.
func syncLoop(clock clockwork.Clock, changes <-chan struct{}, syncAll func() error,
	done <-chan struct{}) {

	ticker := clock.NewTicker(pollInterval)
	defer ticker.Stop()

	// wait blocks until the next sync should start. It returns false once
	// `done` is closed.
	wait := func() bool {
		for {
			select {
			case _, ok := <-changes:
				if ok {
					return true
				}
				log.Warn("File watcher stopped. Falling back to polling")
				changes = nil
			case <-ticker.Chan():
				return true
			case <-done:
				return false
			}
		}
	}

	for {
		if err := syncAll(); err != nil {
			log.WithError(err).Error("Sync failed. Will retry on the next change")
		}
		if !wait() {
			return
		}
	}
}
