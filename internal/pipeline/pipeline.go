// Package pipeline sequences one year's retrieval: browser-backed session
// bootstrap, expiry resolution, then a strictly serial window → fetch → store
// loop over the resolved expiries with a fixed courtesy delay between
// requests. There is no retry anywhere; failures are counted and logged.
package pipeline

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quantbolt/nsedata/internal/archive"
	"github.com/quantbolt/nsedata/internal/browser"
	"github.com/quantbolt/nsedata/internal/config"
	"github.com/quantbolt/nsedata/internal/manifest"
	"github.com/quantbolt/nsedata/internal/nse"
	"github.com/quantbolt/nsedata/internal/session"
)

// Options select what one run downloads.
type Options struct {
	Symbol     string
	Instrument string
	TestSingle bool // process only the first resolved expiry
	Resume     bool // skip expiries whose output file already exists
}

// Runner owns the per-year orchestration. One browser provider and one
// session are held for the lifetime of a ProcessYear call and released on
// every exit path.
type Runner struct {
	cfg         config.Config
	logger      *slog.Logger
	recorder    manifest.Repository
	newProvider func() browser.Provider
}

func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		newProvider: func() browser.Provider {
			return browser.NewChrome(session.UserAgent)
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRecorder enables the fetch manifest. Without it, outcomes are only
// logged.
func WithRecorder(rec manifest.Repository) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithProviderFactory overrides how browser providers are created; each year
// run gets its own provider. Tests inject a stub here.
func WithProviderFactory(fn func() browser.Provider) Option {
	return func(r *Runner) { r.newProvider = fn }
}

// ProcessYear downloads the chain for every expiry of one year. It returns
// true iff at least one expiry was stored. A session failure or an empty
// expiry list aborts the year; any single expiry's failure skips that expiry
// and the loop continues — files already stored are kept.
func (r *Runner) ProcessYear(ctx context.Context, year int, opts Options) bool {
	logger := r.logger.With("year", year, "symbol", opts.Symbol, "instrument", opts.Instrument)
	logger.Info("processing year")

	provider := r.newProvider()
	defer provider.Shutdown()

	sess, err := session.Bootstrap(ctx, provider, r.cfg.BaseURL, r.cfg.Headless, logger)
	if err != nil {
		logger.Error("session bootstrap failed", "error", err)
		return false
	}
	defer sess.Close()

	client := nse.New(sess, nse.WithBaseURL(r.cfg.BaseURL), nse.WithLogger(logger))

	expiries := client.ExpiryDates(ctx, year, opts.Instrument, opts.Symbol)
	if len(expiries) == 0 {
		logger.Error("no expiry dates found")
		return false
	}

	if opts.TestSingle {
		logger.Info("test mode: processing first expiry only", "expiry", expiries[0])
		expiries = expiries[:1]
	}

	// Fixed pacing between chain requests; the first request is not delayed.
	limiter := rate.NewLimiter(rate.Every(r.cfg.RequestDelay), 1)

	succeeded := 0
	for i, expiry := range expiries {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("run cancelled", "error", err)
			break
		}
		logger.Info("processing expiry", "expiry", expiry, "n", i+1, "total", len(expiries))
		if r.processExpiry(ctx, client, year, expiry, opts, logger) {
			succeeded++
		}
	}

	logger.Info("year complete", "succeeded", succeeded, "total", len(expiries))
	return succeeded > 0
}

// ProcessYears runs each year as an independent session-scoped run, at most
// cfg.YearWorkers at a time. Concurrent years are safe: every run holds its
// own browser and session, and output paths are partitioned by year. Returns
// true iff at least one year succeeded.
func (r *Runner) ProcessYears(ctx context.Context, years []int, opts Options) bool {
	workers := r.cfg.YearWorkers
	if workers <= 0 {
		workers = 1
	}

	results := make([]bool, len(years))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, year := range years {
		i, year := i, year
		g.Go(func() error {
			results[i] = r.ProcessYear(gctx, year, opts)
			return nil
		})
	}
	_ = g.Wait()

	ok := false
	for _, res := range results {
		ok = ok || res
	}
	return ok
}

func (r *Runner) processExpiry(ctx context.Context, client *nse.Client, year int, expiry string, opts Options, logger *slog.Logger) bool {
	window, err := nse.ComputeWindow(expiry)
	if err != nil {
		logger.Error("compute window", "expiry", expiry, "error", err)
		r.record(ctx, &manifest.Fetch{
			Year: year, Symbol: opts.Symbol, Instrument: opts.Instrument,
			Expiry: expiry, Status: manifest.StatusFailed, Error: err.Error(),
		})
		return false
	}

	target := nse.Target{
		Year:       year,
		Symbol:     opts.Symbol,
		Instrument: opts.Instrument,
		Expiry:     expiry,
		Window:     window,
	}

	if opts.Resume {
		if dest := archive.Path(r.cfg.DataDir, target); fileExists(dest) {
			logger.Info("already archived, skipping", "expiry", expiry, "path", dest)
			r.record(ctx, fetchFor(target, manifest.StatusSkipped, dest, 0, ""))
			return true
		}
	}

	payload, err := client.FetchChain(ctx, target)
	if err != nil {
		logger.Error("fetch chain", "expiry", expiry, "error", err)
		r.record(ctx, fetchFor(target, manifest.StatusFailed, "", 0, err.Error()))
		return false
	}

	path, size, err := archive.Store(payload, target, r.cfg.DataDir)
	if err != nil {
		logger.Error("store chain", "expiry", expiry, "error", err)
		r.record(ctx, fetchFor(target, manifest.StatusFailed, "", 0, err.Error()))
		return false
	}

	logger.Info("stored chain", "expiry", expiry, "path", path, "bytes", size)
	r.record(ctx, fetchFor(target, manifest.StatusOK, path, size, ""))
	return true
}

// record writes a manifest row if a recorder is configured. Manifest failures
// are logged and swallowed: the file on disk is already the outcome.
func (r *Runner) record(ctx context.Context, f *manifest.Fetch) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, f); err != nil {
		r.logger.Warn("manifest record failed", "expiry", f.Expiry, "error", err)
	}
}

func fetchFor(t nse.Target, status manifest.Status, path string, size int64, errMsg string) *manifest.Fetch {
	return &manifest.Fetch{
		Year:       t.Year,
		Symbol:     t.Symbol,
		Instrument: t.Instrument,
		Expiry:     t.Expiry,
		StartDate:  t.Window.Start,
		EndDate:    t.Window.End,
		Status:     status,
		Path:       path,
		Bytes:      size,
		Error:      errMsg,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
