package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/descriptor"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/logfile"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/version"
)

var fs = afero.NewOsFs()

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging packsync",
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "packsync-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("packsync-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
Please attach it to your bug report.
You may want to edit the archive if your config contains private URLs.
The archive contains:
 * The packsync logs.
 * The packsync config.
 * The last synced manifest of each instance.
 * The latest game log of each instance.
 * The installed version descriptor of each instance.
 * The version of packsync.
`
	fmt.Printf(msg, out)
}

func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	userConfig, err := config.ParseUser()
	if err != nil {
		log.WithError(err).Error("Failed to parse user config")
		return
	}

	if err := setupConfig(root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to setup config")
	}

	if err := setupCLILogs(root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to setup CLI logs")
	}

	for _, inst := range userConfig.Instances {
		outdir := filepath.Join(root, "instances", inst.ID)
		if err := setupInstance(outdir, userConfig, inst); err != nil {
			log.WithError(err).WithField("instance", inst.ID).Warn("Failed to setup instance info")
		}
	}
}

func setupCLILogs(root string, userConfig config.User) error {
	return copyFile(logfile.Path(userConfig.GameRoot), filepath.Join(root, "cli.log"))
}

func setupConfig(root string, userConfig config.User) error {
	configBytes, err := yaml.Marshal(userConfig)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "config.yaml"), configBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// setupInstance collects the files that describe the state of an instance.
// Files that don't exist yet, such as the game log of an instance that was
// never launched, are skipped.
func setupInstance(outdir string, userConfig config.User, inst config.Instance) error {
	if err := fs.MkdirAll(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	instanceRoot := userConfig.Root(inst)
	files := map[string]string{
		manifest.CachePath(instanceRoot):                   manifest.CacheFileName,
		filepath.Join(instanceRoot, "logs", "latest.log"): "latest.log",
	}

	snapshot, err := manifest.ReadCache(fs, instanceRoot)
	if err != nil {
		log.WithError(err).WithField("instance", inst.ID).Debug("Failed to read manifest snapshot")
	} else if snapshot != nil {
		if id, err := descriptor.ParseID(snapshot.PlatformVersionID); err == nil {
			patcher := descriptor.Patcher{Dir: userConfig.VersionsDir}
			files[patcher.Path(id)] = "descriptor.json"
		}
	}

	for src, name := range files {
		err := copyFile(src, filepath.Join(outdir, name))
		if _, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			log.WithField("path", src).Debug("Skipping missing file")
			continue
		}
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", name))
		}
	}
	return nil
}

func setupVersion(root string) error {
	versionOut, err := fs.Create(filepath.Join(root, "version"))
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer versionOut.Close()

	fmt.Fprintf(versionOut, "local version: %s\n", version.Version)
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WithContext(errors.FileNotFound{Path: src}, "open source")
		}
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	outFile, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, srcFile); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("packsync-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
