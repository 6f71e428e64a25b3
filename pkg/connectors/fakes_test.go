package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sniper-hq/sniper/pkg/browser"
)

// fakeProvider counts sessions so tests can assert the one-session-per-
// operation discipline and the sync_context flag on every delete.
type fakeProvider struct {
	mu       sync.Mutex
	contexts map[string]bool
	created  int
	deleted  []deletion

	failCreate bool
	failInit   bool
}

type deletion struct {
	sessionID   string
	syncContext bool
}

func newFakeProvider(existingContexts ...string) *fakeProvider {
	contexts := make(map[string]bool)
	for _, name := range existingContexts {
		contexts[name] = true
	}
	return &fakeProvider{contexts: contexts}
}

func (f *fakeProvider) GetContext(_ context.Context, name string, createIfMissing bool) (*browser.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.contexts[name] {
		if !createIfMissing {
			return nil, fmt.Errorf("context %q: %w", name, browser.ErrContextNotFound)
		}
		f.contexts[name] = true
	}
	return &browser.Context{ID: name, Name: name}, nil
}

func (f *fakeProvider) CreateSession(context.Context, browser.SessionOptions) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, fmt.Errorf("no capacity")
	}
	f.created++
	id := fmt.Sprintf("sess-%d", f.created)
	return &browser.Session{
		ID:          id,
		CDPEndpoint: "ws://fake/" + id,
		ResourceURL: "https://viewer.fake/" + id,
	}, nil
}

func (f *fakeProvider) InitializeSession(context.Context, string, browser.InitOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInit {
		return fmt.Errorf("fingerprint rejected")
	}
	return nil
}

func (f *fakeProvider) DeleteSession(_ context.Context, sessionID string, syncContext bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, deletion{sessionID: sessionID, syncContext: syncContext})
	return nil
}

func (f *fakeProvider) Navigate(context.Context, string, string) error { return nil }
func (f *fakeProvider) Act(context.Context, string, string) error      { return nil }
func (f *fakeProvider) Extract(context.Context, string, string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}
func (f *fakeProvider) Screenshot(context.Context, string) ([]byte, error) { return []byte{}, nil }

func (f *fakeProvider) deletions() []deletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deletion(nil), f.deleted...)
}

func (f *fakeProvider) sessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// fakeBrowser serves canned page behaviour. Evaluate dispatches on a script
// substring; selectors controls HasSelector probes.
type fakeBrowser struct {
	mu        sync.Mutex
	handlers  map[string]any
	selectors map[string]bool
	pages     int
	closed    bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		handlers:  make(map[string]any),
		selectors: make(map[string]bool),
	}
}

func (b *fakeBrowser) attacher() browser.Attacher {
	return func(context.Context, string) (browser.Browser, error) {
		return b, nil
	}
}

func (b *fakeBrowser) handle(scriptSubstring string, result any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[scriptSubstring] = result
}

func (b *fakeBrowser) setSelector(selector string, present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selectors[selector] = present
}

func (b *fakeBrowser) NewPage(context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages++
	return &fakePage{owner: b}, nil
}

func (b *fakeBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

type fakePage struct {
	owner *fakeBrowser
	urls  []string
}

func (p *fakePage) Goto(_ context.Context, pageURL string, _ time.Duration) error {
	p.urls = append(p.urls, pageURL)
	return nil
}

func (p *fakePage) WaitForLoadState(context.Context, time.Duration) error { return nil }

func (p *fakePage) WaitForSelector(context.Context, string, time.Duration) error { return nil }

func (p *fakePage) HasSelector(_ context.Context, selector string, _ time.Duration) (bool, error) {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return p.owner.selectors[selector], nil
}

func (p *fakePage) Evaluate(_ context.Context, script string, out any) error {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	for substring, result := range p.owner.handlers {
		if strings.Contains(script, substring) {
			raw, err := json.Marshal(result)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, out)
		}
	}
	return nil
}

func (p *fakePage) AddCookies(context.Context, []browser.Cookie) error { return nil }

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte{}, nil }

func (p *fakePage) Close() {}

func testDeps(provider *fakeProvider, b *fakeBrowser) Deps {
	return Deps{
		Provider:     provider,
		Attach:       b.attacher(),
		ImageID:      "chrome-test",
		LoginTimeout: time.Minute,
	}
}
