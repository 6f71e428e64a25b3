package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Default timeouts for page-level waits.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultReadyTimeout      = 10 * time.Second
)

// Cookie is one cookie to inject into a page's context.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

// Browser is a CDP attachment to a running session. All pages opened from
// one Browser share a single browser context and therefore cookies.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close()
}

// Page drives a single tab.
type Page interface {
	Goto(ctx context.Context, pageURL string, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	HasSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Evaluate(ctx context.Context, script string, out any) error
	AddCookies(ctx context.Context, cookies []Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// Attacher attaches to a CDP endpoint. Indirection point for tests.
type Attacher func(ctx context.Context, cdpURL string) (Browser, error)

type cdpBrowser struct {
	browserCtx  context.Context
	cancelChain []context.CancelFunc
}

// Attach connects to a session's CDP endpoint and establishes the shared
// browser context pages are opened in.
func Attach(ctx context.Context, cdpURL string) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Establish the connection eagerly so attach failures surface here, not
	// on the first page operation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("attach CDP %s: %w", cdpURL, err)
	}

	return &cdpBrowser{
		browserCtx:  browserCtx,
		cancelChain: []context.CancelFunc{browserCancel, allocCancel},
	}, nil
}

// NewPage opens a fresh tab in the shared browser context.
func (b *cdpBrowser) NewPage(_ context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &cdpPage{tabCtx: tabCtx, cancel: tabCancel}, nil
}

// Close detaches from the browser. The remote session itself is torn down
// through the provider, not here.
func (b *cdpBrowser) Close() {
	for _, cancel := range b.cancelChain {
		cancel()
	}
}

type cdpPage struct {
	tabCtx context.Context
	cancel context.CancelFunc
}

func (p *cdpPage) Goto(ctx context.Context, pageURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	return p.run(ctx, timeout, chromedp.Navigate(pageURL))
}

// WaitForLoadState waits until the document body is ready.
func (p *cdpPage) WaitForLoadState(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	return p.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *cdpPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	return p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// HasSelector probes for a selector without failing the page: it reports
// false when the selector does not appear within the timeout.
func (p *cdpPage) HasSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	var nodes []*cdp.Node
	err := p.run(ctx, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return false, nil
	}
	return len(nodes) > 0, nil
}

func (p *cdpPage) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, DefaultReadyTimeout, chromedp.Evaluate(script, out))
}

func (p *cdpPage) AddCookies(ctx context.Context, cookies []Cookie) error {
	return p.run(ctx, DefaultReadyTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			expires := cdp.TimeSinceEpoch(c.Expires)
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithExpires(&expires).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, DefaultNavigationTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *cdpPage) Close() {
	p.cancel()
}

// run executes actions on the tab, bounded by both the caller's context and
// the operation timeout.
func (p *cdpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
