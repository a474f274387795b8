// Package session turns a bootstrapped browser session into a reusable HTTP
// client. NSE rejects bare API calls; the anti-bot cookies have to come from
// a real browser visit, after which plain HTTP requests carrying those
// cookies and a matching header set are accepted.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/quantbolt/nsedata/internal/apperror"
	"github.com/quantbolt/nsedata/internal/browser"
)

// UserAgent is presented both by the browser during bootstrap and by every
// API request afterwards. The two must agree or NSE invalidates the session.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

const (
	reportsPath  = "/report-detail/fo_eq_security"
	readyTimeout = 10 * time.Second
)

// Session is the cookie+header state shared by every request in one year run.
// It is built once per run and is invalid after the browser provider that
// produced it shuts down.
type Session struct {
	Client  *http.Client
	headers http.Header
}

// Bootstrap visits the NSE landing page and the derivatives-reports page in
// the given browser, waits for the reports page to become ready, then copies
// the browser's cookies into a fresh cookiejar-backed HTTP client. Any
// navigation error, readiness timeout or empty cookie jar is a session
// failure, which aborts the whole run — there is no retry at this layer.
func Bootstrap(ctx context.Context, p browser.Provider, baseURL string, headless bool, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := p.Launch(ctx, headless); err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("launch browser: %v", err))
	}

	if err := p.Navigate(ctx, baseURL); err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("visit landing page: %v", err))
	}

	reportsURL := baseURL + reportsPath
	if err := p.Navigate(ctx, reportsURL); err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("visit reports page: %v", err))
	}
	if err := p.WaitReady(ctx, readyTimeout); err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("reports page not ready: %v", err))
	}

	cookies, err := p.Cookies(ctx)
	if err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("read cookies: %v", err))
	}
	if len(cookies) == 0 {
		return nil, apperror.New(apperror.Session, "browser returned no cookies")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperror.New(apperror.Session, fmt.Sprintf("parse base url: %v", err))
	}

	jar, _ := cookiejar.New(nil)
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	jar.SetCookies(u, httpCookies)

	logger.Info("session initialized", "cookies", len(cookies), "referer", reportsURL)

	return &Session{
		Client:  &http.Client{Jar: jar},
		headers: browserHeaders(reportsURL),
	}, nil
}

// browserHeaders is the static header set a real Chrome sends on NSE API
// calls. Accept-Encoding is deliberately absent: the transport negotiates
// gzip itself, and setting the header manually would disable its transparent
// decompression.
func browserHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Sec-Ch-Ua", `"Google Chrome";v="137", "Chromium";v="137", "Not/A)Brand";v="24"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Referer", referer)
	return h
}

// Do sends req with the session's header set applied and its cookies attached
// via the client jar.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	return s.Client.Do(req)
}

// Close releases idle connections held by the underlying client.
func (s *Session) Close() {
	s.Client.CloseIdleConnections()
}
