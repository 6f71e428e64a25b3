package connectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sniper-hq/sniper/pkg/browser"
	"github.com/sniper-hq/sniper/pkg/services"
)

// opSession is one operation's remote browser: the provider session, the CDP
// attachment, and the context it is bound to. Sessions are never shared
// across operations.
type opSession struct {
	provider  browser.Provider
	session   *browser.Session
	browser   browser.Browser
	contextID string
}

// openSession acquires the tenant's persistent context, allocates a session
// bound to it, initializes the fingerprint, and attaches CDP. When
// requireLogin is set a missing context fails with ContextNotFoundError
// instead of being created.
func openSession(ctx context.Context, provider browser.Provider, attach browser.Attacher, imageID, platform string, tenant Tenant, requireLogin bool, init browser.InitOptions) (*opSession, error) {
	contextID := ContextID(platform, tenant)

	browserCtx, err := provider.GetContext(ctx, contextID, !requireLogin)
	if err != nil {
		if requireLogin && errors.Is(err, browser.ErrContextNotFound) {
			return nil, &services.ContextNotFoundError{Platform: platform, ContextID: contextID}
		}
		return nil, fmt.Errorf("get browser context: %w", err)
	}

	session, err := provider.CreateSession(ctx, browser.SessionOptions{
		ImageID:   imageID,
		ContextID: browserCtx.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrSessionCreation, err)
	}

	if err := provider.InitializeSession(ctx, session.ID, init); err != nil {
		deleteSessionQuietly(provider, session.ID, false)
		return nil, fmt.Errorf("%w: %w", services.ErrBrowserInit, err)
	}

	b, err := attach(ctx, session.CDPEndpoint)
	if err != nil {
		deleteSessionQuietly(provider, session.ID, false)
		return nil, fmt.Errorf("%w: %w", services.ErrBrowserInit, err)
	}

	return &opSession{
		provider:  provider,
		session:   session,
		browser:   b,
		contextID: contextID,
	}, nil
}

// close detaches and deletes the session. Runs on every code path out of an
// operation, including cancellation; release failures are logged and
// swallowed so they never mask the operation's own error.
func (s *opSession) close(syncContext bool) {
	if s == nil {
		return
	}
	if s.browser != nil {
		s.browser.Close()
	}
	deleteSessionQuietly(s.provider, s.session.ID, syncContext)
}

func deleteSessionQuietly(provider browser.Provider, sessionID string, syncContext bool) {
	// Detached from the caller's context: teardown must proceed even when
	// the operation was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := provider.DeleteSession(ctx, sessionID, syncContext); err != nil {
		slog.Warn("Failed to delete browser session",
			"session_id", sessionID, "sync_context", syncContext, "error", err)
	}
}

// desktopInit returns the standard desktop fingerprint for a platform's
// locale preference.
func desktopInit(locales ...string) browser.InitOptions {
	return browser.InitOptions{
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		DeviceClass:   "desktop",
		OSClass:       "windows",
		Locales:       locales,
		Stealth:       true,
		SolveCaptchas: true,
	}
}
