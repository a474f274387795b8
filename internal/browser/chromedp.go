package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Chrome drives a local Chrome instance via chromedp. The allocator flags
// mirror what NSE tolerates from a real browser: no automation banner, fixed
// window size, sandbox disabled for containerized runs.
type Chrome struct {
	userAgent string

	browserCtx  context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewChrome creates an unlaunched Chrome provider. The user agent must match
// the one the HTTP session will later present, or NSE's bot checks reject the
// copied cookies.
func NewChrome(userAgent string) *Chrome {
	return &Chrome{userAgent: userAgent}
}

func (c *Chrome) Launch(ctx context.Context, headless bool) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(c.userAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	// Start the browser process now so a missing Chrome binary surfaces here
	// rather than on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return fmt.Errorf("launch chrome: %w", err)
	}

	c.browserCtx = browserCtx
	c.cancelCtx = cancelCtx
	c.cancelAlloc = cancelAlloc
	return nil
}

func (c *Chrome) Navigate(_ context.Context, url string) error {
	return chromedp.Run(c.browserCtx, chromedp.Navigate(url))
}

func (c *Chrome) WaitReady(_ context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
}

// Cookies returns every cookie the browser currently holds, across all
// domains it visited during bootstrap.
func (c *Chrome) Cookies(_ context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range raw {
			cookies = append(cookies, Cookie{Name: ck.Name, Value: ck.Value})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	return cookies, nil
}

func (c *Chrome) Shutdown() {
	if c.cancelCtx != nil {
		c.cancelCtx()
	}
	if c.cancelAlloc != nil {
		c.cancelAlloc()
	}
}
