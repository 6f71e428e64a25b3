// Package browser adapts the external browser-as-a-service provider
// (persistent contexts, fingerprinted sessions, agent actions) and drives
// pages over CDP.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrContextNotFound is returned by GetContext when the named context does
// not exist and createIfMissing is false.
var ErrContextNotFound = errors.New("browser context not found")

// Context is a named, persisted cookie+storage profile on the provider.
type Context struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is an ephemeral fingerprinted browser allocated by the provider.
type Session struct {
	ID          string `json:"id"`
	CDPEndpoint string `json:"cdp_endpoint"`
	ResourceURL string `json:"resource_url"`
}

// SessionOptions selects the browser image and the persistent context the
// session is bound to.
type SessionOptions struct {
	ImageID   string `json:"image_id"`
	ContextID string `json:"context_id,omitempty"`
}

// InitOptions configures session fingerprinting.
type InitOptions struct {
	ScreenWidth   int      `json:"screen_width"`
	ScreenHeight  int      `json:"screen_height"`
	DeviceClass   string   `json:"device_class"`
	OSClass       string   `json:"os_class"`
	Locales       []string `json:"locales"`
	Stealth       bool     `json:"stealth"`
	SolveCaptchas bool     `json:"solve_captchas"`
}

// Provider is the narrow interface onto the remote browser service. It is
// deliberately small so tests can substitute a counting fake.
type Provider interface {
	// GetContext returns an idempotent handle to a named persistent profile.
	GetContext(ctx context.Context, name string, createIfMissing bool) (*Context, error)
	// CreateSession allocates a fresh browser, optionally bound to a context.
	CreateSession(ctx context.Context, opts SessionOptions) (*Session, error)
	// InitializeSession configures fingerprint, stealth, and captcha handling.
	InitializeSession(ctx context.Context, sessionID string, opts InitOptions) error
	// DeleteSession releases the session. With syncContext=true the session's
	// mutated cookies/storage are flushed back to its named context first.
	DeleteSession(ctx context.Context, sessionID string, syncContext bool) error

	// LLM-driven actions over the running browser, for flows where
	// CSS-selector extraction is insufficient.
	Navigate(ctx context.Context, sessionID, pageURL string) error
	Act(ctx context.Context, sessionID, instruction string) error
	Extract(ctx context.Context, sessionID, instruction string, schema map[string]any) (map[string]any, error)
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client. apiKey may be empty for unauthenticated
// deployments.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// GetContext fetches (or creates) the named persistent context.
func (c *Client) GetContext(ctx context.Context, name string, createIfMissing bool) (*Context, error) {
	q := url.Values{"name": {name}, "create_if_missing": {strconv.FormatBool(createIfMissing)}}
	var out Context
	status, err := c.do(ctx, http.MethodGet, "/v1/contexts?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("context %q: %w", name, ErrContextNotFound)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get context %q: provider returned HTTP %d", name, status)
	}
	return &out, nil
}

// CreateSession allocates a fresh browser session.
func (c *Client) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	var out Session
	status, err := c.do(ctx, http.MethodPost, "/v1/sessions", opts, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("create session: provider returned HTTP %d", status)
	}
	return &out, nil
}

// InitializeSession applies fingerprint options to a session.
func (c *Client) InitializeSession(ctx context.Context, sessionID string, opts InitOptions) error {
	status, err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/initialize", opts, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("initialize session %s: provider returned HTTP %d", sessionID, status)
	}
	return nil
}

// DeleteSession releases a session, optionally flushing its context.
func (c *Client) DeleteSession(ctx context.Context, sessionID string, syncContext bool) error {
	path := fmt.Sprintf("/v1/sessions/%s?sync_context=%t", sessionID, syncContext)
	status, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	// Deleting an already-deleted session is fine: the QR-login confirm
	// endpoint and its cleanup timer may race.
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("delete session %s: provider returned HTTP %d", sessionID, status)
	}
	return nil
}

// Navigate drives the session's foreground page to a URL.
func (c *Client) Navigate(ctx context.Context, sessionID, pageURL string) error {
	body := map[string]string{"url": pageURL}
	status, err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/agent/navigate", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("navigate session %s: provider returned HTTP %d", sessionID, status)
	}
	return nil
}

// Act executes a natural-language instruction through the provider's agent.
func (c *Client) Act(ctx context.Context, sessionID, instruction string) error {
	body := map[string]string{"instruction": instruction}
	status, err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/agent/act", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("act on session %s: provider returned HTTP %d", sessionID, status)
	}
	return nil
}

// Extract pulls structured data out of the current page via the provider's
// agent, shaped by the supplied JSON schema.
func (c *Client) Extract(ctx context.Context, sessionID, instruction string, schema map[string]any) (map[string]any, error) {
	body := map[string]any{"instruction": instruction, "schema": schema}
	var out map[string]any
	status, err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/agent/extract", body, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("extract from session %s: provider returned HTTP %d", sessionID, status)
	}
	return out, nil
}

// Screenshot captures the current page as PNG bytes.
func (c *Client) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sessions/"+sessionID+"/agent/screenshot", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screenshot session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screenshot session %s: provider returned HTTP %d", sessionID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// do issues a JSON request and decodes the JSON response into out (when
// non-nil). It returns the HTTP status so callers can map provider-level
// outcomes (e.g. 404 on a missing context) without treating them as
// transport failures.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
