package descriptor

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/fsutil"
	"github.com/sidkik/packsync/pkg/transfer"
)

const (
	// DefaultLoaderMetaURL is the base URL of the loader metadata service.
	DefaultLoaderMetaURL = "https://meta.fabricmc.net/v2"

	// DefaultVersionIndexURL lists every base platform version and where its
	// profile is.
	DefaultVersionIndexURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"
)

// Patcher installs merged descriptors into a versions store. Descriptors are
// written once and never regenerated.
type Patcher struct {
	Fs      afero.Fs
	Client  *http.Client
	Retrier fsutil.Retrier
	Sink    events.Sink

	// Dir is the versions store. It may be shared by several target roots.
	Dir string

	LoaderMetaURL   string
	VersionIndexURL string
}

type versionIndex struct {
	Versions []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"versions"`
}

// Path returns where the descriptor for `id` is stored.
func (p Patcher) Path(id ID) string {
	return filepath.Join(p.Dir, id.Raw, id.Raw+".json")
}

// Ensure installs the descriptor for `id` unless it already exists. It
// returns whether a descriptor was written.
func (p Patcher) Ensure(id ID) (bool, error) {
	path := p.Path(id)
	fields := logrus.Fields{"version": id.Raw}

	exists, err := fsutil.Exists(p.Fs, path)
	if err != nil {
		return false, errors.WithContext(err, "stat descriptor")
	}
	if exists {
		events.Debug(p.Sink, "Version descriptor already installed", fields)
		return false, nil
	}

	events.Info(p.Sink, "Version descriptor not found. Installing", fields)
	loader, err := p.fetchDocument(p.loaderProfileURL(id))
	if err != nil {
		return false, errors.WithContext(err, "fetch loader profile")
	}

	baseURL, err := p.baseProfileURL(id.BaseVersion)
	if err != nil {
		return false, err
	}

	base, err := p.fetchDocument(baseURL)
	if err != nil {
		return false, errors.WithContext(err, "fetch base profile")
	}

	merged, err := Merge(id, loader, base)
	if err != nil {
		return false, err
	}

	contents, err := json.MarshalIndent(merged, "", "    ")
	if err != nil {
		return false, errors.WithContext(err, "marshal descriptor")
	}

	if err := fsutil.WriteFileAtomic(p.Fs, p.Retrier, path, contents); err != nil {
		return false, errors.WithContext(err, "write descriptor")
	}

	events.Info(p.Sink, "Installed version descriptor", logrus.Fields{
		"version": id.Raw,
		"path":    path,
	})
	return true, nil
}

func (p Patcher) loaderProfileURL(id ID) string {
	base := p.LoaderMetaURL
	if base == "" {
		base = DefaultLoaderMetaURL
	}
	return fmt.Sprintf("%s/versions/loader/%s/%s/profile/json",
		strings.TrimSuffix(base, "/"), id.BaseVersion, id.LoaderVersion)
}

func (p Patcher) baseProfileURL(version string) (string, error) {
	indexURL := p.VersionIndexURL
	if indexURL == "" {
		indexURL = DefaultVersionIndexURL
	}

	body, err := p.fetch(indexURL)
	if err != nil {
		return "", errors.WithContext(err, "fetch version index")
	}

	var index versionIndex
	if err := json.Unmarshal(body, &index); err != nil {
		return "", errors.WithContext(err, "parse version index")
	}

	for _, v := range index.Versions {
		if v.ID == version {
			return v.URL, nil
		}
	}
	return "", errors.BaseVersionNotFound{Version: version}
}

func (p Patcher) fetchDocument(url string) (Document, error) {
	body, err := p.fetch(url)
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, errors.WithContext(err, "parse")
	}
	return doc, nil
}

func (p Patcher) fetch(url string) ([]byte, error) {
	body, err := transfer.Get(p.Client, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	contents, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, errors.WithContext(err, "read")
	}
	return contents, nil
}
