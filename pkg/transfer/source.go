package transfer

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/netutil"
	"github.com/sidkik/packsync/pkg/version"
)

// Source provides the contents of manifest entries. A missing entry must be
// reported with an error for which errors.IsNotFound returns true.
type Source interface {
	Open(entry manifest.FileEntry) (io.ReadCloser, error)
	String() string
}

// RemoteSource downloads entries from their URL.
type RemoteSource struct {
	Client *http.Client
}

// Open starts downloading the entry. The caller must close the returned
// body.
func (s RemoteSource) Open(entry manifest.FileEntry) (io.ReadCloser, error) {
	return Get(s.Client, entry.URL)
}

func (s RemoteSource) String() string {
	return "remote"
}

// Get issues a GET request for url, and returns the body if the server
// responded with 200. Other responses are returned as errors.StatusError.
func Get(client *http.Client, url string) (io.ReadCloser, error) {
	if client == nil {
		client = netutil.DefaultClient
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, errors.WithContext(err, "new request")
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WithContext(err, "get")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// LocalMirrorSource copies entries from a local directory laid out like the
// target root. Entries missing from the mirror are requested from Fallback,
// if it's set.
type LocalMirrorSource struct {
	Fs       afero.Fs
	Dir      string
	Fallback Source
}

func (s LocalMirrorSource) Open(entry manifest.FileEntry) (io.ReadCloser, error) {
	path := filepath.Join(s.Dir, filepath.FromSlash(entry.Path))
	f, err := s.Fs.Open(path)
	if err == nil {
		return f, nil
	}

	if !os.IsNotExist(err) {
		return nil, errors.WithContext(err, "open mirror file")
	}

	if s.Fallback != nil {
		return s.Fallback.Open(entry)
	}
	return nil, errors.StatusError{URL: path, StatusCode: http.StatusNotFound}
}

func (s LocalMirrorSource) String() string {
	if s.Fallback != nil {
		return "mirror " + s.Dir + " (fallback " + s.Fallback.String() + ")"
	}
	return "mirror " + s.Dir
}
