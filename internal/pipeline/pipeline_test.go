package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantbolt/nsedata/internal/archive"
	"github.com/quantbolt/nsedata/internal/browser"
	"github.com/quantbolt/nsedata/internal/config"
	"github.com/quantbolt/nsedata/internal/manifest"
	"github.com/quantbolt/nsedata/internal/nse"
	"github.com/quantbolt/nsedata/internal/platform/sqlite"
	manifestrepo "github.com/quantbolt/nsedata/internal/repository/manifest"
)

type stubProvider struct {
	cookies   []browser.Cookie
	launchErr error
}

func (s *stubProvider) Launch(_ context.Context, _ bool) error          { return s.launchErr }
func (s *stubProvider) Navigate(_ context.Context, _ string) error      { return nil }
func (s *stubProvider) WaitReady(_ context.Context, _ time.Duration) error { return nil }
func (s *stubProvider) Cookies(_ context.Context) ([]browser.Cookie, error) {
	return s.cookies, nil
}
func (s *stubProvider) Shutdown() {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newUpstream serves the two NSE endpoints: a fixed expiry list per year and
// chain CSV for every expiry except those listed in failing.
func newUpstream(t *testing.T, expiries map[string][]string, failing map[string]bool, fetchCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/historicalOR/meta/foCPV/expireDts":
			year := r.URL.Query().Get("year")
			dates := expiries[year]
			body := `{"expiryDt":[`
			for i, d := range dates {
				if i > 0 {
					body += ","
				}
				body += fmt.Sprintf("%q", d)
			}
			body += `]}`
			_, _ = w.Write([]byte(body))
		case "/api/historicalOR/foCPV":
			if fetchCalls != nil {
				fetchCalls.Add(1)
			}
			expiry := r.URL.Query().Get("expiryDate")
			if failing[expiry] {
				http.Error(w, "upstream unhappy", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/csv")
			_, _ = fmt.Fprintf(w, "FH_TIMESTAMP,FH_CLOSE\n01-Jan-2024,21000.5\n")
		default:
			http.NotFound(w, r)
		}
	}))
}

func testRunner(ts *httptest.Server, dataDir string, extra ...Option) *Runner {
	cfg := config.Config{
		BaseURL:     ts.URL,
		DataDir:     dataDir,
		Headless:    true,
		YearWorkers: 1,
	}
	opts := []Option{
		WithLogger(quietLogger()),
		WithProviderFactory(func() browser.Provider {
			return &stubProvider{cookies: []browser.Cookie{{Name: "nsit", Value: "tok"}}}
		}),
	}
	return NewRunner(cfg, append(opts, extra...)...)
}

func countCSVFiles(t *testing.T, dir string) int {
	t.Helper()
	var n int
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".csv" {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return n
}

func TestProcessYear_PartialFailure(t *testing.T) {
	dataDir := t.TempDir()
	ts := newUpstream(t,
		map[string][]string{"2024": {"25-Jan-2024", "29-Feb-2024", "28-Mar-2024"}},
		map[string]bool{"29-Feb-2024": true},
		nil,
	)
	defer ts.Close()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open manifest db: %v", err)
	}
	defer func() { _ = db.Close() }()
	repo := manifestrepo.NewRepository(db.DB)

	runner := testRunner(ts, dataDir, WithRecorder(repo))
	opts := Options{Symbol: "NIFTY", Instrument: "FUTIDX"}

	if !runner.ProcessYear(context.Background(), 2024, opts) {
		t.Fatal("expected true with two of three expiries succeeding")
	}
	if got := countCSVFiles(t, dataDir); got != 2 {
		t.Errorf("expected exactly 2 files on disk, got %d", got)
	}

	recorded, err := repo.ListByRun(context.Background(), 2024, "NIFTY", "FUTIDX")
	if err != nil {
		t.Fatalf("list manifest: %v", err)
	}
	if len(recorded) != 3 {
		t.Fatalf("expected 3 manifest rows, got %d", len(recorded))
	}
	var ok, failed int
	for _, f := range recorded {
		switch f.Status {
		case manifest.StatusOK:
			ok++
		case manifest.StatusFailed:
			failed++
		}
	}
	if ok != 2 || failed != 1 {
		t.Errorf("expected 2 ok / 1 failed, got %d / %d", ok, failed)
	}
}

func TestProcessYear_TestSingle(t *testing.T) {
	dataDir := t.TempDir()
	var fetchCalls atomic.Int64
	ts := newUpstream(t,
		map[string][]string{"2024": {"25-Jan-2024", "29-Feb-2024", "28-Mar-2024"}},
		nil, &fetchCalls,
	)
	defer ts.Close()

	runner := testRunner(ts, dataDir)
	opts := Options{Symbol: "NIFTY", Instrument: "FUTIDX", TestSingle: true}

	if !runner.ProcessYear(context.Background(), 2024, opts) {
		t.Fatal("expected success")
	}
	if fetchCalls.Load() != 1 {
		t.Errorf("test mode must fetch exactly the first expiry, fetched %d", fetchCalls.Load())
	}
	if got := countCSVFiles(t, dataDir); got != 1 {
		t.Errorf("expected 1 file, got %d", got)
	}
}

func TestProcessYear_MalformedExpirySkipped(t *testing.T) {
	dataDir := t.TempDir()
	ts := newUpstream(t,
		map[string][]string{"2024": {"garbage", "25-Jan-2024"}},
		nil, nil,
	)
	defer ts.Close()

	runner := testRunner(ts, dataDir)
	if !runner.ProcessYear(context.Background(), 2024, Options{Symbol: "NIFTY", Instrument: "FUTIDX"}) {
		t.Fatal("one malformed expiry date must not sink the run")
	}
	if got := countCSVFiles(t, dataDir); got != 1 {
		t.Errorf("expected 1 file, got %d", got)
	}
}

func TestProcessYear_NoExpiries(t *testing.T) {
	dataDir := t.TempDir()
	ts := newUpstream(t, map[string][]string{}, nil, nil)
	defer ts.Close()

	runner := testRunner(ts, dataDir)
	if runner.ProcessYear(context.Background(), 2024, Options{Symbol: "NIFTY", Instrument: "FUTIDX"}) {
		t.Fatal("expected false when no expiries resolve")
	}
	if got := countCSVFiles(t, dataDir); got != 0 {
		t.Errorf("expected no files, got %d", got)
	}
}

func TestProcessYear_SessionFailure(t *testing.T) {
	dataDir := t.TempDir()
	var fetchCalls atomic.Int64
	ts := newUpstream(t, map[string][]string{"2024": {"25-Jan-2024"}}, nil, &fetchCalls)
	defer ts.Close()

	runner := testRunner(ts, dataDir, WithProviderFactory(func() browser.Provider {
		return &stubProvider{launchErr: errors.New("chrome not found")}
	}))
	if runner.ProcessYear(context.Background(), 2024, Options{Symbol: "NIFTY", Instrument: "FUTIDX"}) {
		t.Fatal("expected false on session bootstrap failure")
	}
	if fetchCalls.Load() != 0 {
		t.Errorf("no requests should be issued after bootstrap failure, got %d", fetchCalls.Load())
	}
}

func TestProcessYear_Resume(t *testing.T) {
	dataDir := t.TempDir()
	var fetchCalls atomic.Int64
	ts := newUpstream(t,
		map[string][]string{"2024": {"25-Jan-2024", "29-Feb-2024"}},
		nil, &fetchCalls,
	)
	defer ts.Close()

	// Pre-create the first expiry's file at its deterministic path.
	window, err := nse.ComputeWindow("25-Jan-2024")
	if err != nil {
		t.Fatalf("compute window: %v", err)
	}
	existing := archive.Path(dataDir, nse.Target{
		Year: 2024, Symbol: "NIFTY", Instrument: "FUTIDX",
		Expiry: "25-Jan-2024", Window: window,
	})
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(existing, []byte("already here\n"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	runner := testRunner(ts, dataDir)
	opts := Options{Symbol: "NIFTY", Instrument: "FUTIDX", Resume: true}

	if !runner.ProcessYear(context.Background(), 2024, opts) {
		t.Fatal("expected success")
	}
	if fetchCalls.Load() != 1 {
		t.Errorf("resume must skip the archived expiry, fetched %d", fetchCalls.Load())
	}

	data, _ := os.ReadFile(existing)
	if string(data) != "already here\n" {
		t.Errorf("resume must not overwrite the existing file, got %q", data)
	}
}

func TestProcessYears(t *testing.T) {
	dataDir := t.TempDir()
	ts := newUpstream(t,
		map[string][]string{
			"2023": {"28-Dec-2023"},
			"2024": {"25-Jan-2024"},
		},
		nil, nil,
	)
	defer ts.Close()

	var providers atomic.Int64
	runner := testRunner(ts, dataDir, WithProviderFactory(func() browser.Provider {
		providers.Add(1)
		return &stubProvider{cookies: []browser.Cookie{{Name: "nsit", Value: "tok"}}}
	}))

	if !runner.ProcessYears(context.Background(), []int{2023, 2024}, Options{Symbol: "NIFTY", Instrument: "FUTIDX"}) {
		t.Fatal("expected success")
	}
	if providers.Load() != 2 {
		t.Errorf("each year must get its own browser session, got %d", providers.Load())
	}
	if got := countCSVFiles(t, dataDir); got != 2 {
		t.Errorf("expected one file per year, got %d", got)
	}
	for _, sub := range []string{"2023", "2024"} {
		if _, err := os.Stat(filepath.Join(dataDir, sub)); err != nil {
			t.Errorf("expected %s partition on disk: %v", sub, err)
		}
	}
}

func TestProcessYears_AllFail(t *testing.T) {
	dataDir := t.TempDir()
	ts := newUpstream(t, map[string][]string{}, nil, nil)
	defer ts.Close()

	runner := testRunner(ts, dataDir)
	if runner.ProcessYears(context.Background(), []int{2023, 2024}, Options{Symbol: "NIFTY", Instrument: "FUTIDX"}) {
		t.Fatal("expected false when every year fails")
	}
}
