// Package testhelpers provides shared fixtures for the integration and
// end-to-end suites: graph document directories, engine builders wired
// with the built-in component set, and a scripted HTTP upstream.
package testhelpers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Scopeo/draftnrun/pkg/components"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/storage"
	"github.com/Scopeo/draftnrun/pkg/telemetry"
)

// QuietLogger returns a logger that only surfaces errors, keeping test
// output readable while the engine logs node lifecycles underneath.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// WriteGraphDir materializes graph documents into a fresh directory.
func WriteGraphDir(tb testing.TB, docs map[string]string) string {
	tb.Helper()

	dir := tb.TempDir()
	for name, doc := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o600); err != nil {
			tb.Fatalf("write graph document %s: %v", name, err)
		}
	}
	return dir
}

// NewBuilder wires a builder with the built-in component set over a
// directory of graph documents. A nil sink leaves tracing off.
func NewBuilder(tb testing.TB, dir string, sink telemetry.TraceSink) *engine.Builder {
	tb.Helper()

	registry := engine.NewRegistry()
	if err := components.RegisterBuiltins(registry); err != nil {
		tb.Fatalf("register builtins: %v", err)
	}

	store, err := storage.NewFileStore(dir)
	if err != nil {
		tb.Fatalf("open graph store: %v", err)
	}

	return engine.NewBuilder(engine.BuilderConfig{
		Registry: registry,
		Store:    store,
		Sink:     sink,
		Logger:   QuietLogger(),
	})
}

// Upstream is a scripted HTTP fixture. It serves the configured status
// sequence (sticking on the last entry), optionally sleeps before
// responding, and tracks how many requests it saw and how many it served
// concurrently at peak.
type Upstream struct {
	server *httptest.Server

	mu          sync.Mutex
	statuses    []int
	delay       time.Duration
	requests    int
	inflight    int
	maxInflight int
}

// NewUpstream starts a fixture that answers every request with 200 and a
// JSON body reporting the request path and its sequence number.
func NewUpstream(tb testing.TB) *Upstream {
	tb.Helper()

	u := &Upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(u.handler))
	tb.Cleanup(u.server.Close)
	return u
}

// URL returns the fixture's base URL.
func (u *Upstream) URL() string {
	return u.server.URL
}

// ScriptStatuses sets the status codes for subsequent requests. The last
// entry repeats once the script runs out.
func (u *Upstream) ScriptStatuses(codes ...int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append([]int(nil), codes...)
}

// SetDelay makes the fixture sleep before answering each request.
func (u *Upstream) SetDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delay = d
}

// Requests reports how many requests the fixture has served.
func (u *Upstream) Requests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

// MaxInflight reports the peak number of concurrently served requests.
func (u *Upstream) MaxInflight() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.maxInflight
}

func (u *Upstream) handler(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests++
	n := u.requests
	u.inflight++
	if u.inflight > u.maxInflight {
		u.maxInflight = u.inflight
	}
	status := http.StatusOK
	if len(u.statuses) > 0 {
		status = u.statuses[0]
		if len(u.statuses) > 1 {
			u.statuses = u.statuses[1:]
		}
	}
	delay := u.delay
	u.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	u.mu.Lock()
	u.inflight--
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"path":%q,"n":%d}`, r.URL.Path, n)
}
