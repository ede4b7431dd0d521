// Package config reads and writes the versioned YAML files that configure
// packsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// parseConfigErrTemplate is shown when a config file isn't valid YAML, or
// doesn't match the expected schema. The parser's errors don't say where in
// the file the problem is, so the path and raw error are all we can offer.
const parseConfigErrTemplate = "The packsync config %q could not be parsed.\n" +
	"Check that:\n" +
	" - every field has the right type\n" +
	" - there are no misspelled or unknown fields\n\n" +
	"The parser reported:\n" +
	"%s"

// versioned is implemented by config files that carry a schema version.
type versioned interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The packsync config %q has version %q, but this "+
		"release of packsync only understands version %q.\n"+
		"Run `packsync config` to regenerate it.", err.path, err.actual, err.exp)
}

// readConfig decodes the file at `path` into `dst`. FileNotFound is returned
// if the file doesn't exist, in which case `dst` is left untouched.
func readConfig(path string, dst versioned, expVersion string) error {
	contents, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	// The lenient pass lets version mismatches take priority over schema
	// errors, since an old or new schema is the likely cause of both.
	if err := yaml.Unmarshal(contents, dst); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if actual := dst.getVersion(); actual != expVersion {
		return incompatibleVersionError{path: path, exp: expVersion, actual: actual}
	}

	if err := yaml.UnmarshalStrict(contents, dst, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

// writeConfig serializes `src` as YAML to `path`, creating the parent
// directory if needed.
func writeConfig(path string, src interface{}) error {
	contents, err := yaml.Marshal(src)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}
	if err := afero.WriteFile(fs, path, contents, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
