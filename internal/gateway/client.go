// Package gateway is the client for the administration backend behind the
// API gateway. It carries two bearer tokens: the identity token issued at
// login and the gateway token obtained by exchanging it. Domain calls use
// the gateway token, which is fetched on first need and cached in the
// token store.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/dashgate/internal/errors"
	"github.com/alexjbarnes/dashgate/internal/tokens"
	"golang.org/x/sync/singleflight"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads. List endpoints return
	// whole tables, so this is larger than a single record needs.
	maxResponseBytes = 8 * 1024 * 1024
)

const (
	loginPath        = "/auth/login/"
	logoutPath       = "/auth/logout/"
	registerPath     = "/auth/register/"
	gatewayTokenPath = "/auth/kong-token/"
	mePath           = "/auth/me/"
)

// Client talks to the backend through the API gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      *tokens.Store
	logger     *slog.Logger
	now        func() time.Time

	exchange   singleflight.Group
	exchanging atomic.Int32
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so bearer tokens never reach a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a client for the API rooted at baseURL (for example
// "http://localhost:9000/api"). If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created. A nil logger
// discards request logs.
func NewClient(baseURL string, store *tokens.Store, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(httpClientTimeout)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// NewHTTPClient returns an http.Client with the given timeout and the
// same-host redirect policy.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the token store backing the client.
func (c *Client) Store() *tokens.Store {
	return c.store
}

// Do sends r with the credential it asks for and returns the JSON payload.
//
// For AuthGateway the gateway token is acquired first when none is cached.
// A 401 on an identity-authenticated call ends the session; a 401 on a
// gateway-authenticated call drops the cached gateway token so the next
// call exchanges for a fresh one. Neither case retries.
func (c *Client) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	token, err := c.credential(ctx, r.Auth)
	if err != nil {
		return nil, err
	}

	raw, err := c.send(ctx, r, token)
	if err != nil && IsUnauthorized(err) {
		c.handleRejection(r.Auth, token)
	}

	return raw, err
}

func (c *Client) credential(ctx context.Context, kind CredentialKind) (string, error) {
	switch kind {
	case AuthNone:
		return "", nil
	case AuthIdentity:
		token, ok := c.store.Get(tokens.Identity)
		if !ok {
			return "", apperrors.ErrNotLoggedIn
		}

		return token, nil
	case AuthGateway:
		return c.EnsureGatewayToken(ctx)
	}

	return "", fmt.Errorf("unknown credential kind %d", kind)
}

func (c *Client) handleRejection(kind CredentialKind, token string) {
	switch kind {
	case AuthIdentity:
		c.logger.Warn("identity token rejected, clearing session")

		if err := c.store.ClearAll(); err != nil {
			c.logger.Warn("failed to clear session", slog.String("error", err.Error()))
		}
	case AuthGateway:
		// Only drop the token this call used; a concurrent exchange may
		// already have stored a fresh one.
		if current, ok := c.store.Get(tokens.Gateway); ok && current == token {
			c.logger.Debug("gateway token rejected, dropping cached token")

			if err := c.store.Clear(tokens.Gateway); err != nil {
				c.logger.Warn("failed to clear gateway token", slog.String("error", err.Error()))
			}
		}
	}
}

// send issues one HTTP request and normalizes the response. token, when
// non-empty, is sent as a bearer token.
func (c *Client) send(ctx context.Context, r Request, token string) (json.RawMessage, error) {
	if !strings.HasPrefix(r.Path, "/") {
		return nil, fmt.Errorf("request path %q must start with /", r.Path)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader

	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed",
			slog.String("method", method),
			slog.String("url", target),
			slog.String("auth", r.Auth.String()),
			slog.String("error", err.Error()),
		)

		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	attrs := []any{
		slog.String("method", method),
		slog.String("url", target),
		slog.String("auth", r.Auth.String()),
		slog.Int("status", resp.StatusCode),
	}

	// One byte past the cap tells a truncated body from one that fits.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		c.logger.Warn("api request failed", append(attrs,
			slog.Duration("duration", c.now().Sub(start)),
			slog.String("error", err.Error()),
		)...)

		return nil, &TransportError{Method: method, URL: target, Err: fmt.Errorf("reading response: %w", err)}
	}

	if len(respBody) > maxResponseBytes {
		err := fmt.Errorf("%w: response exceeds %d bytes", apperrors.ErrAPIResponse, maxResponseBytes)
		c.logger.Warn("api request failed", append(attrs,
			slog.Duration("duration", c.now().Sub(start)),
			slog.String("error", err.Error()),
		)...)

		return nil, err
	}

	raw, err := normalize(method, r.Path, resp.StatusCode, respBody)

	attrs = append(attrs, slog.Duration("duration", c.now().Sub(start)))
	if err != nil {
		c.logger.Warn("api request rejected", append(attrs, slog.String("error", err.Error()))...)
	} else {
		c.logger.Debug("api request", attrs...)
	}

	return raw, err
}
