package transfer

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	goSync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/events"
	"github.com/sidkik/packsync/pkg/manifest"
	"github.com/sidkik/packsync/pkg/netutil"
)

// trackingSource serves every entry with its path as contents, and records
// how many opens were in flight at once.
type trackingSource struct {
	mu       goSync.Mutex
	inFlight int
	max      int
	opened   []string
}

func (s *trackingSource) Open(entry manifest.FileEntry) (io.ReadCloser, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.max {
		s.max = s.inFlight
	}
	s.opened = append(s.opened, entry.Path)
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return ioutil.NopCloser(strings.NewReader(entry.Path)), nil
}

func (s *trackingSource) String() string {
	return "tracking"
}

func newTestScheduler(fs afero.Fs, source Source, sink events.Sink) Scheduler {
	s := NewScheduler(fs, source, clockwork.NewRealClock(), sink)
	s.TransportDelay = 0
	return s
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := &trackingSource{}
	recorder := &events.Recorder{}
	scheduler := newTestScheduler(fs, source, recorder)

	var tasks []Task
	for i := 0; i < 12; i++ {
		path := fmt.Sprintf("mods/%02d.jar", i)
		tasks = append(tasks, Task{
			Entry: manifest.FileEntry{Path: path, URL: "unused"},
			Dest:  "/game/" + path,
		})
	}

	report, err := scheduler.Run("files", tasks, nil)
	require.NoError(t, err)
	assert.Len(t, report.Transferred, 12)
	assert.True(t, source.max <= DefaultConcurrency, "max in flight was %d", source.max)

	// Batches finish before the next starts, so the first five opens are the
	// first five tasks in some order.
	firstBatch := append([]string(nil), source.opened[:5]...)
	for _, path := range firstBatch {
		assert.True(t, path < "mods/05.jar", path)
	}

	contents, err := afero.ReadFile(fs, "/game/mods/07.jar")
	assert.NoError(t, err)
	assert.Equal(t, "mods/07.jar", string(contents))

	progress := recorder.ProgressEvents()
	assert.Len(t, progress, 12)
	assert.Equal(t, events.Progress{Phase: "files", Processed: 12, Total: 12}, progress[11])
}

func TestSchedulerProgressThrottle(t *testing.T) {
	recorder := &events.Recorder{}
	scheduler := newTestScheduler(afero.NewMemMapFs(), &trackingSource{}, recorder)
	scheduler.ProgressEvery = 5

	var tasks []Task
	for i := 0; i < 12; i++ {
		path := fmt.Sprintf("config/%02d.json", i)
		tasks = append(tasks, Task{Entry: manifest.FileEntry{Path: path}, Dest: "/game/" + path})
	}

	_, err := scheduler.Run("files", tasks, nil)
	require.NoError(t, err)

	var processed []int
	for _, p := range recorder.ProgressEvents() {
		processed = append(processed, p.Processed)
	}
	assert.Equal(t, []int{5, 10, 12}, processed)
}

func TestSchedulerRemote(t *testing.T) {
	var mu goSync.Mutex
	requests := map[string]int{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests[r.URL.Path]++
		count := requests[r.URL.Path]
		mu.Unlock()

		switch r.URL.Path {
		case "/hello.txt":
			fmt.Fprint(w, "Hello World")
		case "/corrupt.txt":
			fmt.Fprint(w, "Hello Worle")
		case "/flaky.txt":
			if count < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, "Hello World")
		case "/down.txt":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/options.txt", []byte("user edits"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/game/unchanged.txt", []byte("Hello World"), 0644))

	entry := func(path, remote string) Task {
		return Task{
			Entry: manifest.FileEntry{Path: path, URL: ts.URL + remote, SHA1: helloWorldSHA1},
			Dest:  "/game/" + path,
		}
	}
	tasks := []Task{
		entry("mods/hello.txt", "/hello.txt"),
		entry("mods/corrupt.txt", "/corrupt.txt"),
		entry("mods/flaky.txt", "/flaky.txt"),
		entry("mods/down.txt", "/down.txt"),
		entry("mods/gone.txt", "/gone.txt"),
		entry("options.txt", "/hello.txt"),
		entry("unchanged.txt", "/hello.txt"),
	}

	recorder := &events.Recorder{}
	scheduler := newTestScheduler(fs, RemoteSource{Client: ts.Client()}, recorder)
	report, err := scheduler.Run("files", tasks, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"mods/corrupt.txt", "mods/flaky.txt", "mods/hello.txt"}, report.Transferred)
	assert.Equal(t, []string{"mods/corrupt.txt"}, report.Mismatched)
	assert.Equal(t, []string{"mods/gone.txt"}, report.Missing)
	assert.Equal(t, []string{"mods/down.txt"}, report.Failed)
	assert.Equal(t, []string{"options.txt"}, report.Preserved)
	assert.Equal(t, []string{"unchanged.txt"}, report.Unchanged)
	assert.Len(t, recorder.Warnings(), 3)

	// A hash mismatch keeps the downloaded bytes.
	contents, err := afero.ReadFile(fs, "/game/mods/corrupt.txt")
	assert.NoError(t, err)
	assert.Equal(t, "Hello Worle", string(contents))

	contents, err = afero.ReadFile(fs, "/game/options.txt")
	assert.NoError(t, err)
	assert.Equal(t, "user edits", string(contents))

	exists, err := afero.Exists(fs, "/game/mods/gone.txt")
	assert.NoError(t, err)
	assert.False(t, exists)

	mu.Lock()
	assert.Equal(t, 3, requests["/flaky.txt"])
	assert.Equal(t, 1+DefaultTransportRetries, requests["/down.txt"])
	assert.Equal(t, 1, requests["/gone.txt"])
	mu.Unlock()
}

func TestSchedulerRetriesStalledDownload(t *testing.T) {
	var mu goSync.Mutex
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		stall := requests == 1
		mu.Unlock()

		if stall {
			time.Sleep(200 * time.Millisecond)
		}
		fmt.Fprint(w, "Hello World")
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	client := netutil.NewClient(netutil.Timeouts{ResponseHeader: 50 * time.Millisecond})
	recorder := &events.Recorder{}
	scheduler := newTestScheduler(fs, RemoteSource{Client: client}, recorder)

	report, err := scheduler.Run("files", []Task{{
		Entry: manifest.FileEntry{Path: "mods/hello.txt", URL: ts.URL + "/hello.txt",
			SHA1: helloWorldSHA1},
		Dest: "/game/mods/hello.txt",
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mods/hello.txt"}, report.Transferred)
	assert.Empty(t, report.Failed)
	assert.Empty(t, recorder.Warnings())

	contents, err := afero.ReadFile(fs, "/game/mods/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(contents))

	mu.Lock()
	assert.Equal(t, 2, requests)
	mu.Unlock()
}

func TestSchedulerPreservedMissingIsDownloaded(t *testing.T) {
	fs := afero.NewMemMapFs()
	scheduler := newTestScheduler(fs, &trackingSource{}, nil)

	report, err := scheduler.Run("files", []Task{{
		Entry: manifest.FileEntry{Path: "servers.dat"},
		Dest:  "/game/servers.dat",
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"servers.dat"}, report.Transferred)
}

// readOnlyFs rejects all writes, to simulate a local filesystem failure.
type readOnlyFs struct {
	afero.Fs
}

func (fs readOnlyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
}

func TestSchedulerLocalErrorIsFatal(t *testing.T) {
	fs := readOnlyFs{afero.NewMemMapFs()}
	scheduler := newTestScheduler(fs, &trackingSource{}, nil)

	_, err := scheduler.Run("files", []Task{{
		Entry: manifest.FileEntry{Path: "mods/a.jar"},
		Dest:  "/game/mods/a.jar",
	}}, nil)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestLocalMirrorSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mirror/mods/a.jar", []byte("mirrored"), 0644))

	fallback := &trackingSource{}
	source := LocalMirrorSource{Fs: fs, Dir: "/mirror"}

	body, err := source.Open(manifest.FileEntry{Path: "mods/a.jar"})
	require.NoError(t, err)
	contents, _ := ioutil.ReadAll(body)
	body.Close()
	assert.Equal(t, "mirrored", string(contents))

	_, err = source.Open(manifest.FileEntry{Path: "mods/b.jar"})
	assert.True(t, errors.IsNotFound(err))

	source.Fallback = fallback
	body, err = source.Open(manifest.FileEntry{Path: "mods/b.jar"})
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, []string{"mods/b.jar"}, fallback.opened)
	assert.Equal(t, "mirror /mirror (fallback tracking)", source.String())
}
