package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/packsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the packsync user config.
	UserConfigPath = "~/.packsync.yaml"

	// UserConfigPathEnv overrides UserConfigPath.
	UserConfigPathEnv = "PACKSYNC_CONFIG"

	// GameRootEnv overrides the default game root.
	GameRootEnv = "PACKSYNC_GAME_ROOT"

	// DefaultGameRoot is used when neither the config nor the environment
	// set a game root.
	DefaultGameRoot = "~/.packsync"

	// InitialUserConfigVersion is the first version of the packsync user
	// config. Config files that do not specify a version will default to
	// this version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the packsync
	// user config of the current packsync binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User is the packsync user config.
type User struct {
	Version string `json:"version,omitempty"`

	// GameRoot contains every instance, the shared versions store, and the
	// packsync log.
	GameRoot    string `json:"gameRoot,omitempty"`
	VersionsDir string `json:"versionsDir,omitempty"`

	Concurrency   int       `json:"concurrency,omitempty"`
	ProgressEvery int       `json:"progressEvery,omitempty"`
	Environment   string    `json:"environment,omitempty"`
	Preserved     []string  `json:"preserved,omitempty"`
	Mirror        Mirror    `json:"mirror,omitempty"`
	Endpoints     Endpoints `json:"endpoints,omitempty"`

	Instances []Instance `json:"instances,omitempty"`
}

// Mirror configures syncing from a local copy of the remote files.
type Mirror struct {
	Dir      string `json:"dir,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Endpoints overrides the metadata services used to install version
// descriptors.
type Endpoints struct {
	LoaderMeta   string `json:"loaderMeta,omitempty"`
	VersionIndex string `json:"versionIndex,omitempty"`
}

// Instance is a target root that's synced from its own manifest.
type Instance struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ManifestURL string `json:"manifestUrl"`

	// GameDir is relative to the game root. The instance is synced into the
	// game root itself if it's empty.
	GameDir string `json:"gameDir,omitempty"`

	// ModsDir is relative to the instance root.
	ModsDir string `json:"modsDir,omitempty"`

	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// IsEnabled returns whether the instance is synced by `sync --all`.
func (inst Instance) IsEnabled() bool {
	return inst.Enabled == nil || *inst.Enabled
}

// Root returns the target root of the instance.
func (u User) Root(inst Instance) string {
	if inst.GameDir == "" {
		return u.GameRoot
	}
	if filepath.IsAbs(inst.GameDir) {
		return inst.GameDir
	}
	return filepath.Join(u.GameRoot, inst.GameDir)
}

// Instance returns the instance with the given id.
func (u User) Instance(id string) (Instance, error) {
	for _, inst := range u.Instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return Instance{}, errors.NewFriendlyError(
		"Instance %q isn't defined in the packsync config.\n"+
			"Run `packsync instances` to list the configured instances.", id)
}

// EnabledInstances returns the instances that are synced by `sync --all`.
func (u User) EnabledInstances() (instances []Instance) {
	for _, inst := range u.Instances {
		if inst.IsEnabled() {
			instances = append(instances, inst)
		}
	}
	return instances
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser parses the user config. A missing config file isn't an error:
// the defaults are returned instead.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	if err := readConfig(path, &config, SupportedUserConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return User{}, errors.WithContext(err, "parse")
		}
	}

	if err := config.resolvePaths(filepath.Dir(path)); err != nil {
		return User{}, err
	}
	if err := config.validate(); err != nil {
		return User{}, errors.WithContext(err, "validate")
	}
	return config, nil
}

// WriteUser writes `cfg` to the user config path. The versions directory is
// omitted if it's the default, so that it follows the game root.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	if cfg.VersionsDir == filepath.Join(cfg.GameRoot, "versions") {
		cfg.VersionsDir = ""
	}

	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	return writeConfig(path, cfg)
}

// resolvePaths expands home directories and defaults. Relative paths are
// evaluated relative to the config file.
func (u *User) resolvePaths(configDir string) error {
	if u.GameRoot == "" {
		u.GameRoot = os.Getenv(GameRootEnv)
	}
	if u.GameRoot == "" {
		u.GameRoot = DefaultGameRoot
	}

	for _, field := range []*string{&u.GameRoot, &u.VersionsDir, &u.Mirror.Dir} {
		if *field == "" {
			continue
		}

		expanded, err := homedirExpand(*field)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("expand %s", *field))
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(configDir, expanded)
		}
		*field = expanded
	}

	if u.VersionsDir == "" {
		u.VersionsDir = filepath.Join(u.GameRoot, "versions")
	}
	return nil
}

func (u User) validate() error {
	seen := map[string]struct{}{}
	for i, inst := range u.Instances {
		if inst.ID == "" {
			return errors.WithContext(errors.MissingFieldError{Field: "id"},
				fmt.Sprintf("instance %d", i))
		}
		if inst.ManifestURL == "" {
			return errors.WithContext(errors.MissingFieldError{Field: "manifestUrl"},
				fmt.Sprintf("instance %q", inst.ID))
		}
		if _, ok := seen[inst.ID]; ok {
			return errors.NewFriendlyError("Instance %q is defined more than once "+
				"in the packsync config.", inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}

// GetUserConfigPath returns the path to the user's packsync config. This
// path is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	if path := os.Getenv(UserConfigPathEnv); path != "" {
		return homedirExpand(path)
	}
	return homedirExpand(UserConfigPath)
}
