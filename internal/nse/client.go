// Package nse implements the client for NSE's historical derivatives
// ("foCPV") endpoints: expiry-date resolution, query-window derivation and
// chain retrieval with CSV normalization.
package nse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantbolt/nsedata/internal/apperror"
)

const (
	defaultBaseURL = "https://www.nseindia.com"
	expiryPath     = "/api/historicalOR/meta/foCPV/expireDts"
	chainPath      = "/api/historicalOR/foCPV"

	resolveTimeout = 10 * time.Second
	fetchTimeout   = 30 * time.Second // chain payloads run to megabytes
)

// expiryKeys are the aliases under which the expiry endpoint has been
// observed to return its date list, in priority order. The first key present
// in the response wins, even if its list is empty.
var expiryKeys = [...]string{"expiryDt", "expiresDts", "expiryDates"}

// Target is the full parameter set for one chain retrieval.
type Target struct {
	Year       int
	Symbol     string
	Instrument string
	Expiry     string
	Window     Window
}

// Doer issues an HTTP request with session cookies and headers attached.
// *session.Session implements it; tests use a plain *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the NSE historical endpoints through an authenticated
// session. It never retries: retry policy, if any, belongs to the caller.
type Client struct {
	doer    Doer
	baseURL string
	logger  *slog.Logger
}

func New(doer Doer, opts ...Option) *Client {
	c := &Client{
		doer:    doer,
		baseURL: defaultBaseURL,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// ExpiryDates returns the contract expiry dates for the given year, in
// upstream order. Every failure mode — transport error, bad status, unknown
// response shape — collapses to an empty slice with the raw response logged
// for diagnosis; an empty result means "nothing to do", not an error.
func (c *Client) ExpiryDates(ctx context.Context, year int, instrument, symbol string) []string {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("instrument", instrument)
	params.Set("symbol", symbol)
	params.Set("year", strconv.Itoa(year))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+expiryPath+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Error("build expiry request", "error", err)
		return nil
	}

	res, err := c.doer.Do(req)
	if err != nil {
		c.logger.Error("fetch expiry dates", "symbol", symbol, "year", year, "error", err)
		return nil
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		c.logger.Error("read expiry response", "symbol", symbol, "year", year, "error", err)
		return nil
	}
	if res.StatusCode != http.StatusOK {
		c.logger.Error("expiry endpoint returned non-OK status",
			"symbol", symbol, "year", year, "status", res.StatusCode, "body", truncate(body, 500))
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Error("parse expiry response", "symbol", symbol, "year", year,
			"error", err, "body", truncate(body, 500))
		return nil
	}

	for _, key := range expiryKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var dates []string
		if err := json.Unmarshal(raw, &dates); err != nil {
			c.logger.Error("decode expiry list", "key", key, "error", err, "body", truncate(body, 500))
			return nil
		}
		if len(dates) == 0 {
			c.logger.Warn("expiry list empty", "key", key, "symbol", symbol, "year", year)
			return nil
		}
		c.logger.Info("resolved expiry dates", "symbol", symbol, "year", year,
			"instrument", instrument, "count", len(dates))
		return dates
	}

	c.logger.Warn("no known expiry key in response", "symbol", symbol, "year", year, "body", truncate(body, 500))
	return nil
}

// FetchChain retrieves the historical records for one expiry's window and
// normalizes them into a tabular payload. The endpoint answers with either
// CSV text or a JSON {"data": [...]} envelope depending on upstream mood;
// both arrive as the same Payload. Any transport failure, non-OK status or
// unrecognized body shape is a fetch error — the caller skips the expiry.
func (c *Client) FetchChain(ctx context.Context, t Target) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("from", t.Window.Start)
	params.Set("to", t.Window.End)
	params.Set("instrumentType", t.Instrument)
	params.Set("symbol", t.Symbol)
	params.Set("year", strconv.Itoa(t.Window.Year))
	params.Set("expiryDate", t.Expiry)
	params.Set("csv", "true")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+chainPath+"?"+params.Encode(), nil)
	if err != nil {
		return Payload{}, apperror.New(apperror.Fetch, fmt.Sprintf("build chain request: %v", err))
	}

	res, err := c.doer.Do(req)
	if err != nil {
		return Payload{}, apperror.New(apperror.Fetch, fmt.Sprintf("fetch chain for %s: %v", t.Expiry, err))
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Payload{}, apperror.New(apperror.Fetch, fmt.Sprintf("read chain response for %s: %v", t.Expiry, err))
	}
	if res.StatusCode != http.StatusOK {
		return Payload{}, apperror.New(apperror.Fetch,
			fmt.Sprintf("chain endpoint returned HTTP %d for %s: %s", res.StatusCode, t.Expiry, truncate(body, 500)))
	}

	p := DecodePayload(res.Header.Get("Content-Type"), res.Header.Get("Content-Disposition"), body)
	if p.Kind == KindUnrecognized {
		return Payload{}, apperror.New(apperror.Fetch,
			fmt.Sprintf("unrecognized chain payload for %s: %s", t.Expiry, truncate(body, 500)))
	}

	c.logger.Info("retrieved chain data", "symbol", t.Symbol, "expiry", t.Expiry,
		"from", t.Window.Start, "to", t.Window.End, "kind", p.Kind, "rows", len(p.Rows))
	return p, nil
}

// truncate caps diagnostic bodies so a multi-megabyte response never floods
// the log.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
