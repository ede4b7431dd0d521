package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/bugtool"
	"github.com/sidkik/packsync/cmd/clean"
	configCmd "github.com/sidkik/packsync/cmd/config"
	"github.com/sidkik/packsync/cmd/instances"
	manifestCmd "github.com/sidkik/packsync/cmd/manifest"
	syncCmd "github.com/sidkik/packsync/cmd/sync"
	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/cmd/version"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/logfile"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "PACKSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	verbose := os.Getenv(verboseLogKey) == "true"
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "packsync",
		Short:        "Keep game instances in sync with their published manifests",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogFile(verbose)
		},
	}
	rootCmd.AddCommand(
		bugtool.New(),
		clean.New(),
		configCmd.New(),
		instances.New(),
		manifestCmd.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// setupLogFile mirrors the logs into the game root. Failures only affect
// the log file, so they don't stop the command.
func setupLogFile(verbose bool) {
	userConfig, err := config.ParseUser()
	if err != nil {
		log.WithError(err).Debug("Failed to parse user config for the log file")
		return
	}

	hook, err := logfile.NewHook(userConfig.GameRoot, verbose)
	if err != nil {
		log.WithError(err).WithField("path", logfile.Path(userConfig.GameRoot)).
			Debug("Failed to open log file")
		return
	}
	log.AddHook(hook)
}
