package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"io"
	"io/ioutil"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/packsync/pkg/config"
	"github.com/sidkik/packsync/pkg/version"
)

type file struct {
	path, contents string
}

func TestSetupCLILogs(t *testing.T) {
	tests := []struct {
		name       string
		root       string
		userConfig config.User
		mockFiles  []file
		expFiles   []file
		expError   error
	}{
		{
			name:       "Log exists",
			root:       "root",
			userConfig: config.User{GameRoot: "/game"},
			mockFiles:  []file{{"/game/logs/packsync.log", "log contents"}},
			expFiles:   []file{{"root/cli.log", "log contents"}},
		},
		{
			name:       "Log doesn't exist",
			userConfig: config.User{GameRoot: "/game"},
			expError:   errors.New(`open source: "/game/logs/packsync.log" does not exist`),
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, setupFiles(test.mockFiles))
		err := setupCLILogs(test.root, test.userConfig)
		if test.expError == nil {
			assert.NoError(t, err, test.name)
		} else {
			assert.EqualError(t, err, test.expError.Error(), test.name)
		}
		assertFiles(t, test.expFiles, test.name)
	}
}

func TestSetupInstance(t *testing.T) {
	userConfig := config.User{
		GameRoot:    "/game",
		VersionsDir: "/game/versions",
	}
	snapshot := `{"version": "2024.05.01", "gameVersion": "fabric-loader-0.16.9-1.21.1", "files": []}`
	descriptorPath := "/game/versions/fabric-loader-0.16.9-1.21.1/fabric-loader-0.16.9-1.21.1.json"

	tests := []struct {
		name      string
		inst      config.Instance
		mockFiles []file
		expFiles  []file
		expMissed []string
	}{
		{
			name: "Synced and launched",
			inst: config.Instance{ID: "survival"},
			mockFiles: []file{
				{"/game/client-manifest.json", snapshot},
				{"/game/logs/latest.log", "game log"},
				{descriptorPath, `{"id": "fabric-loader-0.16.9-1.21.1"}`},
			},
			expFiles: []file{
				{"/out/client-manifest.json", snapshot},
				{"/out/latest.log", "game log"},
				{"/out/descriptor.json", `{"id": "fabric-loader-0.16.9-1.21.1"}`},
			},
		},
		{
			name: "Never launched",
			inst: config.Instance{ID: "creative", GameDir: "creative"},
			mockFiles: []file{
				{"/game/creative/client-manifest.json", snapshot},
			},
			expFiles: []file{
				{"/out/client-manifest.json", snapshot},
			},
			expMissed: []string{"/out/latest.log", "/out/descriptor.json"},
		},
		{
			name:      "Never synced",
			inst:      config.Instance{ID: "new", GameDir: "new"},
			expMissed: []string{"/out/client-manifest.json"},
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, setupFiles(test.mockFiles))
		assert.NoError(t, setupInstance("/out", userConfig, test.inst), test.name)
		assertFiles(t, test.expFiles, test.name)

		for _, path := range test.expMissed {
			exists, err := afero.Exists(fs, path)
			assert.NoError(t, err, test.name)
			assert.False(t, exists, test.name)
		}
	}
}

func TestSetupConfig(t *testing.T) {
	fs = afero.NewMemMapFs()
	userConfig := config.User{
		Version:  "v1alpha1",
		GameRoot: "/game",
		Instances: []config.Instance{
			{ID: "survival", ManifestURL: "http://example.com/manifest.json"},
		},
	}
	assert.NoError(t, setupConfig("/out", userConfig))

	configBytes, err := afero.ReadFile(fs, "/out/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(configBytes), "gameRoot: /game\n")

	var parsed config.User
	require.NoError(t, yaml.Unmarshal(configBytes, &parsed))
	assert.Equal(t, userConfig, parsed)
}

func TestTarDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()
	version.Version = "1.2.0"
	assert.NoError(t, setupFiles([]file{
		{"/info/cli.log", "log contents"},
		{"/info/instances/survival/latest.log", "game log"},
	}))
	assert.NoError(t, setupVersion("/info"))
	require.NoError(t, tarDirectory("/info", "/archive.tar.gz"))

	archive, err := fs.Open("/archive.tar.gz")
	require.NoError(t, err)
	defer archive.Close()

	gzr, err := gzip.NewReader(archive)
	require.NoError(t, err)
	tr := tar.NewReader(gzr)

	contents := map[string]string{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := ioutil.ReadAll(tr)
		require.NoError(t, err)
		contents[header.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"packsync-bug-info/cli.log":                       "log contents",
		"packsync-bug-info/instances/survival/latest.log": "game log",
		"packsync-bug-info/version":                       "local version: 1.2.0\n",
	}, contents)
}

func setupFiles(files []file) error {
	for _, f := range files {
		if err := afero.WriteFile(fs, f.path, []byte(f.contents), 0644); err != nil {
			return err
		}
	}
	return nil
}

func assertFiles(t *testing.T, files []file, msg string) {
	for _, f := range files {
		contents, err := afero.ReadFile(fs, f.path)
		assert.NoError(t, err, msg)
		assert.Equal(t, f.contents, string(contents), msg)
	}
}
