package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/packsync/cmd/util"
	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	guessDefaults             = guessDefaultsImpl
	parseUserConfig           = config.ParseUser
	writeUserConfig           = config.WriteUser
	homedirExpand             = homedir.Expand
	getenv                    = os.Getenv
)

// defaultInstanceID is suggested for the first instance.
const defaultInstanceID = "default"

// answers are the settings that `packsync config` asks for.
type answers struct {
	GameRoot    string
	InstanceID  string
	ManifestURL string
}

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts answers
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the packsync user configuration",
		Long: "Set the game root, and add or update an instance.\n" +
			"Settings that aren't passed as flags are prompted for.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := setupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.GameRoot, "game-root", "",
		"Set the game root in the config. "+
			"Optional: If not set, `packsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.InstanceID, "instance", "",
		"The id of the instance to add or update. "+
			"Optional: If not set, `packsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.ManifestURL, "manifest-url", "",
		"Set the manifest URL of the instance. "+
			"Optional: If not set, `packsync config` will interactively prompt.")

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-game-root",
			short: "Get the currently configured game root",
			fn:    func(cfg config.User) string { return cfg.GameRoot },
		},
		{
			use:   "get-versions-dir",
			short: "Get the directory that version descriptors are installed into",
			fn:    func(cfg config.User) string { return cfg.VersionsDir },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// setupConfig generates the user config and writes it to disk.
func setupConfig(cliOpts answers) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func instanceIDValidationFn(id string) (string, bool) {
	maxLen := 63
	if len(id) > maxLen {
		return "The instance id must not be more than 63 characters. " +
			"Please pick another id.", false
	}

	re := regexp.MustCompile(`^[a-z0-9][-_a-z0-9]*$`)
	if re.MatchString(id) {
		return "", true
	}

	return "This instance id contains invalid characters. " +
		"Please pick another id that only " +
		"uses the following characters:\n" +
		"1) lowercase letters (a-z) \n" +
		"2) numbers (0-9) \n" +
		"3) - and _ \n" +
		"Please ensure that your chosen id " +
		"starts with a letter or number.", false
}

func manifestURLValidationFn(manifestURL string) (string, bool) {
	u, err := url.Parse(manifestURL)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return "", true
	}
	return "The manifest URL must be an absolute http(s) URL, such as " +
		"https://example.com/manifest.json.", false
}

func gameRootValidationFn(gameRoot string) (string, bool) {
	if strings.TrimSpace(gameRoot) == "" {
		return "The game root can't be empty.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer string
	currAnswer                        func() string
	field                             *string
	validationFn                      func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to explicitly
// override them if desired.
func generateConfig(cliOpts answers) (config.User, error) {
	defaults := guessDefaults()
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	resp := cliOpts
	currInstance := func() config.Instance {
		for _, inst := range currConfig.Instances {
			if inst.ID == resp.InstanceID {
				return inst
			}
		}
		return config.Instance{}
	}

	var prompts []prompt
	if cliOpts.GameRoot == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory that instances are synced into.\n" +
				"The packsync log and the version descriptors are also kept there.",
			prompt:        "Game root",
			defaultAnswer: defaults.GameRoot,
			currAnswer:    func() string { return currConfig.GameRoot },
			field:         &resp.GameRoot,
			validationFn:  gameRootValidationFn,
		})
	}

	if cliOpts.InstanceID == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the id of the instance to add or update.\n" +
				"It's used to select the instance with `packsync sync --instance`.",
			prompt:        "Instance id",
			defaultAnswer: defaults.InstanceID,
			currAnswer: func() string {
				if len(currConfig.Instances) == 0 {
					return ""
				}
				return currConfig.Instances[0].ID
			},
			field:        &resp.InstanceID,
			validationFn: instanceIDValidationFn,
		})
	}

	if cliOpts.ManifestURL == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the manifest that the instance is synced from.",
			prompt:     "Manifest URL",
			currAnswer: func() string {
				return currInstance().ManifestURL
			},
			field:        &resp.ManifestURL,
			validationFn: manifestURLValidationFn,
		})
	}

	for _, prompt := range prompts {
		var answer string
		for {
			answer, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer())
			if err != nil {
				return config.User{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(answer)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = answer
	}

	cfg := currConfig
	cfg.GameRoot = resp.GameRoot
	cfg.Instances = upsertInstance(currConfig.Instances, resp.InstanceID, resp.ManifestURL)
	return cfg, nil
}

// upsertInstance sets the manifest URL of the instance with the given id,
// adding the instance if it doesn't exist yet. Additional instances get their
// own directory so that they don't overwrite each other.
func upsertInstance(instances []config.Instance, id, manifestURL string) []config.Instance {
	var updated []config.Instance
	found := false
	for _, inst := range instances {
		if inst.ID == id {
			inst.ManifestURL = manifestURL
			found = true
		}
		updated = append(updated, inst)
	}
	if found {
		return updated
	}

	inst := config.Instance{ID: id, ManifestURL: manifestURL}
	if len(instances) != 0 {
		inst.GameDir = id
	}
	return append(updated, inst)
}

// guessDefaults tries to guess reasonable defaults for the fields in the user
// config.
func guessDefaultsImpl() (defaults answers) {
	defaults.InstanceID = defaultInstanceID

	gameRoot := getenv(config.GameRootEnv)
	if gameRoot == "" {
		gameRoot = config.DefaultGameRoot
	}
	if expanded, err := homedirExpand(gameRoot); err == nil {
		defaults.GameRoot = expanded
	} else {
		log.WithError(err).Info("Failed to guess game root")
	}
	return defaults
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\r\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\r\n"), nil
}
