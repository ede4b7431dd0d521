package version

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/netutil"
	"github.com/sidkik/packsync/pkg/version"
)

// progressOut is where the spinner is drawn. It's mocked out by the unit
// tests.
var progressOut io.Writer = os.Stderr

// New creates a new `version` command.
func New() *cobra.Command {
	var manifestURL string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of packsync.",
		Long: "Print the local version of packsync. If a manifest is given, also\n" +
			"print the latest release that it advertises.",
		Run: func(_ *cobra.Command, args []string) {
			if err := run(os.Stdout, netutil.NewClient(netutil.DefaultTimeouts), manifestURL); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&manifestURL, "manifest-url", "",
		"check for a newer release advertised by this manifest")
	return cmd
}

func run(out io.Writer, client *http.Client, manifestURL string) error {
	fmt.Fprintf(out, "local version:  %s\n", version.Version)
	if manifestURL == "" {
		return nil
	}

	spinner := util.NewSpinner(progressOut, "Checking for updates to packsync.")
	go spinner.Run()
	fetcher := manifest.Fetcher{Client: client, Clock: clockwork.NewRealClock()}
	m, err := fetcher.Fetch(manifestURL)
	spinner.Stop()
	if err != nil {
		return errors.WithContext(err, "fetch manifest")
	}

	if m.LauncherVersion == "" {
		fmt.Fprintln(out, "The manifest doesn't advertise a packsync release.")
		return nil
	}
	fmt.Fprintf(out, "latest version: %s\n", m.LauncherVersion)

	outdated, err := version.IsOutdated(version.Version, m.LauncherVersion)
	if err != nil {
		log.WithError(err).Debug("Failed to compare versions")
		fmt.Fprintln(out, "Unable to tell whether this release is out of date.")
		return nil
	}

	if !outdated {
		fmt.Fprintln(out, "packsync is up to date.")
		return nil
	}

	msg := "A newer release of packsync is available."
	if m.LauncherURL != "" {
		msg += fmt.Sprintf("\nDownload it from %s", m.LauncherURL)
	}
	fmt.Fprintln(out, msg)
	return nil
}
