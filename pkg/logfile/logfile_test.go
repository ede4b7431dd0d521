package logfile

import (
	"encoding/json"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/version"
)

func TestHook(t *testing.T) {
	fs = afero.NewMemMapFs()
	version.Version = "testing-version"
	mockTime := time.Unix(1569172899, 0).UTC()

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	logger.SetLevel(logrus.DebugLevel)

	hook, err := NewHook("/game", false)
	require.NoError(t, err)
	logger.AddHook(hook)

	logger.WithFields(logrus.Fields{
		"path":          "mods/a.jar",
		logrus.ErrorKey: errors.New("wrapped error message"),
	}).WithTime(mockTime).Warn("Failed to download file. Skipping")
	logger.WithTime(mockTime).Debug("Up to date")
	require.NoError(t, hook.Close())

	// Reopening appends to the existing file.
	hook, err = NewHook("/game", true)
	require.NoError(t, err)
	logger.AddHook(hook)
	logger.WithTime(mockTime).Debug("Up to date")
	require.NoError(t, hook.Close())

	contents, err := afero.ReadFile(fs, "/game/logs/packsync.log")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, map[string]interface{}{
		"packsync-version": "testing-version",
		"path":             "mods/a.jar",
		"error":            "wrapped error message",
		"level":            "warning",
		"message":          "Failed to download file. Skipping",
		"timestamp":        "2019-09-22T17:21:39Z",
	}, first)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "debug", second["level"])
	assert.Equal(t, "Up to date", second["message"])
}
