// Package descriptor installs the merged version descriptor that the game
// launcher uses for a loader version on top of a base platform version.
package descriptor

import (
	"strings"

	"github.com/sidkik/packsync/pkg/errors"
)

// minIDTokens is the number of dash-separated tokens in the shortest valid
// composite id: <prefix>-<loader>-<loaderVersion>-<baseVersion>.
const minIDTokens = 4

// ID is a parsed composite version id, such as
// "fabric-loader-0.16.9-1.21.1".
type ID struct {
	Raw           string
	LoaderVersion string

	// BaseVersion may itself contain dashes, e.g. "1.21-pre1".
	BaseVersion string
}

// ParseID splits a composite version id into its loader and base versions.
func ParseID(raw string) (ID, error) {
	tokens := strings.Split(raw, "-")
	if len(tokens) < minIDTokens {
		return ID{}, errors.DescriptorIDMalformed{ID: raw}
	}

	id := ID{
		Raw:           raw,
		LoaderVersion: tokens[2],
		BaseVersion:   strings.Join(tokens[3:], "-"),
	}
	if id.LoaderVersion == "" || id.BaseVersion == "" {
		return ID{}, errors.DescriptorIDMalformed{ID: raw}
	}
	return id, nil
}

func (id ID) String() string {
	return id.Raw
}
