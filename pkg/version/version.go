package version

import (
	"fmt"

	goVersion "github.com/hashicorp/go-version"

	"github.com/sidkik/packsync/pkg/errors"
)

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// UserAgent is sent with every HTTP request made by packsync.
func UserAgent() string {
	return fmt.Sprintf("packsync/%s", Version)
}

// IsOutdated returns whether `advertised` is a newer release than `running`.
func IsOutdated(running, advertised string) (bool, error) {
	current, err := goVersion.NewVersion(running)
	if err != nil {
		return false, errors.WithContext(err, "parse running version")
	}

	latest, err := goVersion.NewVersion(advertised)
	if err != nil {
		return false, errors.WithContext(err, "parse advertised version")
	}
	return current.LessThan(latest), nil
}
