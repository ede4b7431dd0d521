package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/bundle"
	"github.com/sidkik/packsync/pkg/descriptor"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/transfer"
)

var fs = afero.NewOsFs()

// bundlesDir is the directory whose archives are published as bundles rather
// than plain files.
const bundlesDir = "modpacks"

// New creates a new `manifest` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Tools for publishing manifests",
	}
	cmd.AddCommand(newGenerateCommand(), newInspectBundleCommand())
	return cmd
}

type generateOptions struct {
	baseURL         string
	gameVersion     string
	launcherVersion string
	launcherURL     string
	out             string
}

func newGenerateCommand() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate DIR",
		Short: "Generate a manifest describing every file in a directory",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := runGenerate(os.Stdout, args[0], opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "",
		"the URL that DIR is published at")
	cmd.Flags().StringVar(&opts.gameVersion, "game-version", "",
		"the version descriptor id, such as fabric-loader-0.16.9-1.21.1")
	cmd.Flags().StringVar(&opts.launcherVersion, "launcher-version", "",
		"the latest packsync release")
	cmd.Flags().StringVar(&opts.launcherURL, "launcher-url", "",
		"where the latest packsync release can be downloaded")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "manifest.json",
		"path to write the manifest to")
	cmd.MarkFlagRequired("base-url")
	cmd.MarkFlagRequired("game-version")
	return cmd
}

func runGenerate(out io.Writer, dir string, opts generateOptions) error {
	m, err := generate(dir, opts, time.Now())
	if err != nil {
		return err
	}
	if err := write(opts.out, m); err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote manifest version %s with %d files and %d bundles to %s.\n",
		m.Version, len(m.Files), len(m.Bundles), opts.out)
	return nil
}

// generate builds a manifest for the files in `dir`. Hidden files and
// Thumbs.db are skipped.
func generate(dir string, opts generateOptions, now time.Time) (manifest.Manifest, error) {
	if _, err := descriptor.ParseID(opts.gameVersion); err != nil {
		return manifest.Manifest{}, err
	}

	baseURL, err := url.Parse(strings.TrimSuffix(opts.baseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return manifest.Manifest{}, errors.NewFriendlyError(
			"The base URL %q must be an absolute http(s) URL.", opts.baseURL)
	}

	if _, err := fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return manifest.Manifest{}, errors.FileNotFound{Path: dir}
		}
		return manifest.Manifest{}, errors.WithContext(err, "stat")
	}

	m := manifest.Manifest{
		Version:           now.UTC().Format("2006.01.02"),
		PlatformVersionID: opts.gameVersion,
		LauncherVersion:   opts.launcherVersion,
		LauncherURL:       opts.launcherURL,
		SourceBaseURL:     baseURL.String(),
		Files:             []manifest.FileEntry{},
	}

	err = afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		if isIgnored(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return errors.WithContext(err, "get relative path")
		}
		rel = filepath.ToSlash(rel)

		digest, err := transfer.HashFile(fs, path)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("hash %s", rel))
		}

		fileURL := baseURL.String() + "/" + escapePath(rel)
		if isBundle(rel) {
			m.Bundles = append(m.Bundles, manifest.BundleRef{Ref: fileURL, SHA1: digest})
			return nil
		}

		m.Files = append(m.Files, manifest.FileEntry{
			Path: rel,
			URL:  fileURL,
			SHA1: digest,
			Size: manifest.Size(info.Size()),
		})
		return nil
	})
	if err != nil {
		return manifest.Manifest{}, errors.WithContext(err, "scan "+dir)
	}

	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})
	return m, nil
}

func write(path string, m manifest.Manifest) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func isIgnored(name string) bool {
	return strings.HasPrefix(name, ".") || name == "Thumbs.db"
}

func isBundle(rel string) bool {
	return strings.HasPrefix(rel, bundlesDir+"/") && strings.HasSuffix(rel, ".mrpack")
}

func escapePath(rel string) string {
	segments := strings.Split(rel, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func newInspectBundleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-bundle FILE",
		Short: "Print the contents of a bundle archive",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := inspect(os.Stdout, args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func inspect(out io.Writer, path string) error {
	index, overrides, err := bundle.Inspect(fs, path)
	if err != nil {
		return errors.WithContext(err, "inspect "+path)
	}

	fmt.Fprintf(out, "Name:      %s\n", index.Name)
	fmt.Fprintf(out, "Version:   %s\n", index.VersionID)
	if index.Summary != "" {
		fmt.Fprintf(out, "Summary:   %s\n", index.Summary)
	}
	fmt.Fprintf(out, "Downloads: %d\n", len(index.Files))

	if len(index.Dependencies) != 0 {
		fmt.Fprintln(out, "Dependencies:")
		var names []string
		for name := range index.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s: %s\n", name, index.Dependencies[name])
		}
	}

	if len(overrides) != 0 {
		fmt.Fprintln(out, "Overrides:")
		var trees []string
		for tree := range overrides {
			trees = append(trees, tree)
		}
		sort.Strings(trees)
		for _, tree := range trees {
			fmt.Fprintf(out, "  %s: %d files\n", tree, overrides[tree])
		}
	}
	return nil
}
