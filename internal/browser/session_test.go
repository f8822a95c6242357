package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver speaks just enough of the chromedriver WebDriver protocol.
type fakeDriver struct {
	*httptest.Server
	args    []string
	deleted atomic.Int32
	// debugger is reported as goog:chromeOptions.debuggerAddress.
	debugger string
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	d := &fakeDriver{debugger: "localhost:9333"}

	reply := func(w http.ResponseWriter, value any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": value})
	}
	chromeOptions := func() map[string]any {
		return map[string]any{"goog:chromeOptions": map[string]any{"debuggerAddress": d.debugger}}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Desired struct {
				ChromeOptions struct {
					Args []string `json:"args"`
				} `json:"goog:chromeOptions"`
			} `json:"desiredCapabilities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		d.args = body.Desired.ChromeOptions.Args
		reply(w, map[string]any{"sessionId": "abc123", "capabilities": chromeOptions()})
	})
	mux.HandleFunc("GET /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.PathValue("id"))
		reply(w, chromeOptions())
	})
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.PathValue("id"))
		d.deleted.Add(1)
		reply(w, nil)
	})
	d.Server = httptest.NewServer(mux)
	t.Cleanup(d.Close)
	return d
}

func TestNewRemoteSendsChromeArgsAndReportsDebugger(t *testing.T) {
	d := newFakeDriver(t)

	wd, err := newRemote(d.URL, chromeArgs(Options{Width: 800, Height: 600, Headless: true}))
	require.NoError(t, err)
	assert.Equal(t, []string{"--window-size=800,600", "--headless=new"}, d.args)

	addr, err := debuggerAddress(wd)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9333", addr)

	s := &Session{wd: wd}
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), d.deleted.Load())
	require.NoError(t, s.Close(), "second close is a no-op")
	assert.Equal(t, int32(1), d.deleted.Load())
}

func TestDebuggerAddressMissing(t *testing.T) {
	d := newFakeDriver(t)
	d.debugger = ""

	wd, err := newRemote(d.URL, nil)
	require.NoError(t, err)
	defer wd.Quit()

	_, err = debuggerAddress(wd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not report a debugger address")
}

func TestNewRemoteReportsDriverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"value":{"error":"session not created","message":"Chrome version must be between 120 and 121"}}`))
	}))
	defer srv.Close()

	_, err := newRemote(srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create session")
	assert.Contains(t, err.Error(), "Chrome version must be between")
}

func TestStartWithinGivesUp(t *testing.T) {
	release := make(chan struct{})
	closed := make(chan struct{})
	late := &Session{cancel: func() { close(closed) }}

	_, err := startWithin(context.Background(), 20*time.Millisecond, func() (*Session, error) {
		<-release
		return late, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "did not start")

	// A session that shows up after the deadline is closed, not leaked.
	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("late session was not closed")
	}
}

func TestStartWithinReturnsResult(t *testing.T) {
	want := &Session{}
	s, err := startWithin(context.Background(), time.Second, func() (*Session, error) { return want, nil })
	require.NoError(t, err)
	assert.Same(t, want, s)
}

func TestScopedIsBounded(t *testing.T) {
	s := &Session{ctx: context.Background()}
	ctx, cancel := s.scoped(context.Background(), 50*time.Millisecond)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	parent, stop := context.WithCancel(context.Background())
	child, cancelChild := s.scoped(parent, time.Hour)
	defer cancelChild()
	stop()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("scoped context outlived its caller")
	}
}

func TestChromeArgs(t *testing.T) {
	args := chromeArgs(Options{Width: 1024, Height: 768, ExtraArgs: []string{"--lang=en-US"}})
	assert.Equal(t, []string{"--window-size=1024,768", "--lang=en-US"}, args)
}

func TestJSCallQuotesArguments(t *testing.T) {
	expr, err := jsCall(`f(%s, %s)`, `select#date`, `a"b`)
	require.NoError(t, err)
	assert.Equal(t, `f("select#date", "a\"b")`, expr)
}

func TestLaunchRequiresDriverPath(t *testing.T) {
	_, err := Launch(context.Background(), Options{})
	require.Error(t, err)
}
