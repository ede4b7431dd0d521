package instances

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
)

var fs = afero.NewOsFs()

// New creates a new `instances` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List the instances defined in the packsync config",
		Run: func(_ *cobra.Command, _ []string) {
			userConfig, err := config.ParseUser()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse user config"))
			}
			printInstances(os.Stdout, userConfig)
		},
	}
}

func printInstances(out io.Writer, userConfig config.User) {
	if len(userConfig.Instances) == 0 {
		path, _ := config.GetUserConfigPath()
		fmt.Fprintf(out, "No instances are defined in %s.\n", path)
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tENABLED\tSYNCED\tROOT\tMANIFEST")
	for _, inst := range userConfig.Instances {
		name := inst.Name
		if name == "" {
			name = "-"
		}
		root := userConfig.Root(inst)
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n", inst.ID, name, inst.IsEnabled(),
			syncedVersion(root), root, inst.ManifestURL)
	}
}

// syncedVersion returns the manifest version that was last synced into
// `root`, or "-" if there isn't one.
func syncedVersion(root string) string {
	snapshot, err := manifest.ReadCache(fs, root)
	if err != nil {
		log.WithError(err).WithField("root", root).Debug("Failed to read manifest snapshot")
		return "-"
	}
	if snapshot == nil || snapshot.Version == "" {
		return "-"
	}
	return snapshot.Version
}
