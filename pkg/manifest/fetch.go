package manifest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/netutil"
	"github.com/sidkik/packsync/pkg/version"
)

// cacheBustParam is appended to every manifest request so that intermediary
// caches never serve a stale manifest.
const cacheBustParam = "t"

// Fetcher downloads root manifests.
type Fetcher struct {
	Client *http.Client
	Clock  clockwork.Clock
}

// Fetch downloads and validates the manifest at `manifestURL`. Transport
// failures and non-200 responses are returned as ManifestUnreachable. A
// manifest that can't be decoded or applied is returned as ManifestInvalid.
func (f Fetcher) Fetch(manifestURL string) (Manifest, error) {
	reqURL, err := f.bustCache(manifestURL)
	if err != nil {
		return Manifest{}, errors.ManifestInvalid{URL: manifestURL, Reason: "bad url", Err: err}
	}

	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return Manifest{}, errors.ManifestInvalid{URL: manifestURL, Reason: "bad url", Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client().Do(req)
	if err != nil {
		return Manifest{}, errors.ManifestUnreachable{URL: manifestURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, errors.ManifestUnreachable{
			URL:        manifestURL,
			StatusCode: resp.StatusCode,
			Err:        errors.StatusError{URL: manifestURL, StatusCode: resp.StatusCode},
		}
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, errors.ManifestInvalid{URL: manifestURL, Reason: "decode", Err: err}
	}

	if err := m.Validate(); err != nil {
		return Manifest{}, errors.ManifestInvalid{URL: manifestURL, Reason: "validate", Err: err}
	}
	return m, nil
}

func (f Fetcher) bustCache(manifestURL string) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", err
	}

	clock := f.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	q := u.Query()
	q.Set(cacheBustParam, strconv.FormatInt(clock.Now().UnixNano()/1e6, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return netutil.DefaultClient
}
