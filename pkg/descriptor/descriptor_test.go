package descriptor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		exp     ID
		invalid bool
	}{
		{
			raw: "fabric-loader-0.16.9-1.21.1",
			exp: ID{Raw: "fabric-loader-0.16.9-1.21.1", LoaderVersion: "0.16.9", BaseVersion: "1.21.1"},
		},
		{
			raw: "fabric-loader-0.15.0-1.21-pre1",
			exp: ID{Raw: "fabric-loader-0.15.0-1.21-pre1", LoaderVersion: "0.15.0", BaseVersion: "1.21-pre1"},
		},
		{raw: "fabric-loader-0.16.9", invalid: true},
		{raw: "1.21.1", invalid: true},
		{raw: "", invalid: true},
		{raw: "fabric-loader--1.21.1", invalid: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.raw, func(t *testing.T) {
			id, err := ParseID(test.raw)
			if test.invalid {
				var malformed errors.DescriptorIDMalformed
				assert.True(t, errors.As(err, &malformed))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.exp, id)
		})
	}
}

func mustParse(t *testing.T, doc string) Document {
	parsed, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	return parsed
}

func libraryNames(t *testing.T, doc Document) []string {
	libs, err := doc.documents("libraries")
	require.NoError(t, err)

	var names []string
	for _, lib := range libs {
		names = append(names, lib.StringField("name"))
	}
	return names
}

func TestMergeLibraries(t *testing.T) {
	loader := mustParse(t, `{"libraries": [{"name": "G1:A1:v1", "url": "https://loader/"}]}`)
	base := mustParse(t, `{"libraries": [
		{"name": "G1:A1:v2"},
		{"name": "G2:A2:v1", "downloads": {"artifact": {"path": "p", "url": "u", "size": 7}}}
	]}`)

	merged, err := Merge(ID{Raw: "fabric-loader-1-2"}, loader, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"G1:A1:v1", "G2:A2:v1"}, libraryNames(t, merged))

	libs, err := merged.documents("libraries")
	require.NoError(t, err)

	var synthesized struct {
		Artifact Artifact `json:"artifact"`
	}
	_, err = libs[0].Get("downloads", &synthesized)
	require.NoError(t, err)
	assert.Equal(t, Artifact{
		Path: "G1/A1/v1/A1-v1.jar",
		URL:  "https://loader/G1/A1/v1/A1-v1.jar",
	}, synthesized.Artifact)

	assert.JSONEq(t, `{"artifact": {"path": "p", "url": "u", "size": 7}}`, string(libs[1]["downloads"]))
}

func TestSynthesizedArtifactHost(t *testing.T) {
	tests := []struct {
		library string
		expURL  string
	}{
		{
			library: `{"name": "net.fabricmc:fabric-loader:0.16.9"}`,
			expURL:  "https://maven.fabricmc.net/net/fabricmc/fabric-loader/0.16.9/fabric-loader-0.16.9.jar",
		},
		{
			library: `{"name": "org.ow2.asm:asm:9.7"}`,
			expURL:  "https://maven.fabricmc.net/org/ow2/asm/asm/9.7/asm-9.7.jar",
		},
		{
			library: `{"name": "com.mojang:brigadier:1.3.10"}`,
			expURL:  "https://libraries.minecraft.net/com/mojang/brigadier/1.3.10/brigadier-1.3.10.jar",
		},
		{
			library: `{"name": "com.mojang:brigadier:1.3.10", "url": "https://mirror.example/"}`,
			expURL:  "https://mirror.example/com/mojang/brigadier/1.3.10/brigadier-1.3.10.jar",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.expURL, func(t *testing.T) {
			lib := mustParse(t, test.library)
			require.NoError(t, ensureArtifact(lib))

			var downloads struct {
				Artifact Artifact `json:"artifact"`
			}
			_, err := lib.Get("downloads", &downloads)
			require.NoError(t, err)
			assert.Equal(t, test.expURL, downloads.Artifact.URL)
			assert.Equal(t, int64(0), downloads.Artifact.Size)
		})
	}

	short := mustParse(t, `{"name": "nocoords"}`)
	require.NoError(t, ensureArtifact(short))
	assert.False(t, short.Has("downloads"))
}

func TestMergeArguments(t *testing.T) {
	tests := []struct {
		name   string
		loader string
		base   string
		exp    string
	}{
		{
			name:   "BaseFirst",
			loader: `{"arguments": {"game": ["z"], "jvm": ["-Dloader"]}}`,
			base:   `{"arguments": {"game": ["x", "y"], "jvm": [{"rules": []}, "-Dbase"]}}`,
			exp:    `{"game": ["x", "y", "z"], "jvm": [{"rules": []}, "-Dbase", "-Dloader"]}`,
		},
		{
			name:   "NoBaseArguments",
			loader: `{"arguments": {"game": ["z"]}}`,
			base:   `{"minecraftArguments": "--legacy"}`,
			exp:    `{"game": ["z"]}`,
		},
		{
			name:   "NoLoaderArguments",
			loader: `{}`,
			base:   `{"arguments": {"game": ["x"]}}`,
			exp:    `{"game": ["x"], "jvm": []}`,
		},
		{
			name:   "NoArguments",
			loader: `{}`,
			base:   `{}`,
			exp:    `{}`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			merged, err := Merge(ID{Raw: "fabric-loader-1-2"},
				mustParse(t, test.loader), mustParse(t, test.base))
			require.NoError(t, err)
			assert.JSONEq(t, test.exp, string(merged["arguments"]))
		})
	}
}

func TestMergeFields(t *testing.T) {
	loader := mustParse(t, `{
		"id": "fabric-loader-0.16.9-1.21.1",
		"inheritsFrom": "1.21.1",
		"mainClass": "net.fabricmc.loader.impl.launch.knot.KnotClient",
		"libraries": []
	}`)
	base := mustParse(t, `{
		"id": "1.21.1",
		"assets": "17",
		"assetIndex": {"id": "17", "url": "https://assets/17.json"},
		"downloads": {"client": {"url": "https://client.jar"}},
		"javaVersion": {"majorVersion": 21},
		"libraries": []
	}`)

	merged, err := Merge(ID{Raw: "custom-id-0.16.9-1.21.1"}, loader, base)
	require.NoError(t, err)

	assert.Equal(t, "custom-id-0.16.9-1.21.1", merged.StringField("id"))
	assert.False(t, merged.Has("inheritsFrom"))
	assert.Equal(t, "net.fabricmc.loader.impl.launch.knot.KnotClient", merged.StringField("mainClass"))
	assert.Equal(t, "17", merged.StringField("assets"))
	assert.JSONEq(t, `{"id": "17", "url": "https://assets/17.json"}`, string(merged["assetIndex"]))
	assert.JSONEq(t, `{"client": {"url": "https://client.jar"}}`, string(merged["downloads"]))
	assert.False(t, merged.Has("javaVersion"))

	// The loader profile is left untouched.
	assert.True(t, loader.Has("inheritsFrom"))
}

type metaServer struct {
	*httptest.Server
	requests int32
}

func newMetaServer(t *testing.T) *metaServer {
	ms := &metaServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ms.requests, 1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/v2/versions/loader/") &&
			strings.HasSuffix(r.URL.Path, "/0.16.9/profile/json"):
			fmt.Fprint(w, `{
				"id": "fabric-loader-0.16.9-1.21.1",
				"inheritsFrom": "1.21.1",
				"arguments": {"game": [], "jvm": ["-DFabricMcEmu= net.minecraft.client.main.Main "]},
				"libraries": [{"name": "net.fabricmc:fabric-loader:0.16.9", "url": "https://maven.fabricmc.net/"}]
			}`)
		case r.URL.Path == "/version_manifest_v2.json":
			fmt.Fprintf(w, `{"versions": [
				{"id": "1.21.2", "url": "%[1]s/v1/1.21.2.json"},
				{"id": "1.21.1", "url": "%[1]s/v1/1.21.1.json"}
			]}`, ms.URL)
		case r.URL.Path == "/v1/1.21.1.json":
			fmt.Fprint(w, `{
				"id": "1.21.1",
				"arguments": {"game": ["--username"], "jvm": ["-Xss1M"]},
				"assets": "17",
				"libraries": [{"name": "com.mojang:brigadier:1.3.10",
					"downloads": {"artifact": {"path": "b.jar", "url": "https://b.jar", "size": 1}}}]
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	return ms
}

func newPatcher(fs afero.Fs, ms *metaServer) Patcher {
	return Patcher{
		Fs:              fs,
		Client:          ms.Client(),
		Retrier:         fsutil.NewRetrier(clockwork.NewFakeClock()),
		Sink:            &events.Recorder{},
		Dir:             "/game/versions",
		LoaderMetaURL:   ms.URL + "/v2",
		VersionIndexURL: ms.URL + "/version_manifest_v2.json",
	}
}

func TestEnsure(t *testing.T) {
	ms := newMetaServer(t)
	defer ms.Close()

	fs := afero.NewMemMapFs()
	patcher := newPatcher(fs, ms)
	id, err := ParseID("fabric-loader-0.16.9-1.21.1")
	require.NoError(t, err)

	written, err := patcher.Ensure(id)
	require.NoError(t, err)
	assert.True(t, written)

	path := "/game/versions/fabric-loader-0.16.9-1.21.1/fabric-loader-0.16.9-1.21.1.json"
	assert.Equal(t, path, patcher.Path(id))

	contents, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "\n    \"arguments\": {")

	var descriptor struct {
		ID           string  `json:"id"`
		InheritsFrom *string `json:"inheritsFrom"`
		Assets       string  `json:"assets"`
		Arguments    struct {
			Game []string `json:"game"`
			JVM  []string `json:"jvm"`
		} `json:"arguments"`
		Libraries []struct {
			Name string `json:"name"`
		} `json:"libraries"`
	}
	require.NoError(t, json.Unmarshal(contents, &descriptor))
	assert.Equal(t, "fabric-loader-0.16.9-1.21.1", descriptor.ID)
	assert.Nil(t, descriptor.InheritsFrom)
	assert.Equal(t, "17", descriptor.Assets)
	assert.Equal(t, []string{"--username"}, descriptor.Arguments.Game)
	assert.Equal(t, []string{"-Xss1M", "-DFabricMcEmu= net.minecraft.client.main.Main "},
		descriptor.Arguments.JVM)
	require.Len(t, descriptor.Libraries, 2)
	assert.Equal(t, "net.fabricmc:fabric-loader:0.16.9", descriptor.Libraries[0].Name)
	assert.Equal(t, "com.mojang:brigadier:1.3.10", descriptor.Libraries[1].Name)

	// The descriptor is never regenerated once it exists.
	before := atomic.LoadInt32(&ms.requests)
	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"id": "edited"}`), 0644))
	written, err = patcher.Ensure(id)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, before, atomic.LoadInt32(&ms.requests))

	contents, err = afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, `{"id": "edited"}`, string(contents))
}

func TestEnsureFailures(t *testing.T) {
	ms := newMetaServer(t)
	defer ms.Close()

	tests := []struct {
		name  string
		id    string
		check func(*testing.T, error)
	}{
		{
			name: "BaseVersionNotFound",
			id:   "fabric-loader-0.16.9-1.21.1-missing",
			check: func(t *testing.T, err error) {
				var notFound errors.BaseVersionNotFound
				assert.True(t, errors.As(err, &notFound))
			},
		},
		{
			name: "LoaderProfileNotFound",
			id:   "fabric-loader-0.0.1-1.21.1",
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsNotFound(err))
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			patcher := newPatcher(fs, ms)
			id, err := ParseID(test.id)
			require.NoError(t, err)

			written, err := patcher.Ensure(id)
			assert.False(t, written)
			test.check(t, err)

			exists, err := afero.Exists(fs, patcher.Path(id))
			assert.NoError(t, err)
			assert.False(t, exists)
		})
	}
}
