package clean

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/cleanup"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
)

var fs = afero.NewOsFs()

// New creates a new `clean` command.
func New() *cobra.Command {
	var instance string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove logs, crash reports, and caches from an instance",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(os.Stdout, instance, asJSON); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "",
		"the instance to clean. Defaults to the game root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// summary is the JSON output of the command.
type summary struct {
	cleanup.Stats
	SpaceFreedMB float64 `json:"spaceFreedMB"`
}

func run(out io.Writer, instance string, asJSON bool) error {
	userConfig, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	root := userConfig.GameRoot
	if instance != "" {
		inst, err := userConfig.Instance(instance)
		if err != nil {
			return err
		}
		root = userConfig.Root(inst)
	}

	cleaner := cleanup.Cleaner{
		Fs:      fs,
		Retrier: fsutil.NewRetrier(clockwork.NewRealClock()),
		Sink:    events.LogrusSink{Logger: log.StandardLogger()},
	}
	stats, err := cleaner.Clean(root)
	if err != nil {
		return errors.WithContext(err, "clean "+root)
	}
	return printStats(out, stats, asJSON)
}

func printStats(out io.Writer, stats cleanup.Stats, asJSON bool) error {
	if !asJSON {
		fmt.Fprintf(out, "Deleted %d files, freeing %.2f MB.\n",
			stats.FilesDeleted, stats.SpaceFreedMB())
		return nil
	}

	summaryJSON, err := json.MarshalIndent(summary{stats, stats.SpaceFreedMB()}, "", "    ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	fmt.Fprintln(out, string(summaryJSON))
	return nil
}
