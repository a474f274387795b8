// Package browser abstracts the browser engine used to bootstrap an
// authenticated NSE session behind a small capability interface. The pipeline
// only ever talks to Provider, so tests substitute a stub that returns canned
// cookies instead of launching Chrome.
package browser

import (
	"context"
	"time"
)

// Cookie is one browser cookie as (name, value); everything else about the
// cookie (domain, expiry, flags) is irrelevant once it is copied into the
// HTTP client jar.
type Cookie struct {
	Name  string
	Value string
}

// Provider is the capability set the session bootstrap needs from a browser
// engine. Shutdown must be safe to call on every exit path, including after
// a failed Launch.
type Provider interface {
	Launch(ctx context.Context, headless bool) error
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, timeout time.Duration) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Shutdown()
}
