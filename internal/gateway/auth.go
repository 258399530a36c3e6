package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	apperrors "github.com/alexjbarnes/dashgate/internal/errors"
	"github.com/alexjbarnes/dashgate/internal/tokens"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// SessionState is the client's position in the login/exchange lifecycle.
type SessionState int

const (
	LoggedOut SessionState = iota
	IdentityOnly
	Exchanging
	FullyAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case IdentityOnly:
		return "identity_only"
	case Exchanging:
		return "exchanging"
	case FullyAuthenticated:
		return "fully_authenticated"
	}

	return "unknown"
}

// Login authenticates with username and password and stores the returned
// identity token, the gateway token when the response carries one, and
// the user profile. Errors from the auth service are returned as-is.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	req := LoginRequest{
		Username: norm.NFC.String(username),
		Password: password,
	}

	raw, err := c.send(ctx, Request{Method: http.MethodPost, Path: loginPath, Body: req, Auth: AuthNone}, "")
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding login response: %v", apperrors.ErrAPIResponse, err)
	}

	if resp.Access == "" {
		return nil, fmt.Errorf("%w: login response has no access token", apperrors.ErrAPIResponse)
	}

	if err := c.store.Set(tokens.Identity, resp.Access); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	// An empty kong_token clears the slot, so a gateway token from a
	// previous session never survives a new login.
	if err := c.store.Set(tokens.Gateway, resp.KongToken); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	if err := c.store.SetProfile(resp.User); err != nil {
		c.logger.Warn("failed to save profile", slog.String("error", err.Error()))
	}

	c.logger.Info("logged in",
		slog.String("username", req.Username),
		slog.Bool("gateway_token", resp.KongToken != ""),
	)

	return &resp, nil
}

// Register creates a user account through the auth service. The call is
// unauthenticated and leaves the current session untouched.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (json.RawMessage, error) {
	req.Username = norm.NFC.String(req.Username)
	if req.PasswordConfirm == "" {
		req.PasswordConfirm = req.Password
	}

	return c.send(ctx, Request{Method: http.MethodPost, Path: registerPath, Body: req, Auth: AuthNone}, "")
}

// Logout tells the auth service the session is over and then clears both
// tokens and the profile. The local session is cleared even when the
// call fails; that failure is still returned so callers can report it.
func (c *Client) Logout(ctx context.Context) error {
	var callErr error

	if identity, ok := c.store.Get(tokens.Identity); ok {
		_, callErr = c.send(ctx, Request{Method: http.MethodPost, Path: logoutPath, Auth: AuthIdentity}, identity)
		if callErr != nil {
			c.logger.Warn("logout call failed, clearing local session anyway", slog.String("error", callErr.Error()))
		}
	}

	if err := c.store.ClearAll(); err != nil {
		return errors.Join(callErr, fmt.Errorf("clearing session: %w", err))
	}

	return callErr
}

// EnsureGatewayToken returns the cached gateway token, exchanging the
// identity token for one when none is cached. Concurrent callers share a
// single exchange. Without an identity token it fails with
// ErrNoIdentityToken before touching the network. A failed exchange
// leaves stored tokens untouched and is not retried.
func (c *Client) EnsureGatewayToken(ctx context.Context) (string, error) {
	if token, ok := c.store.Get(tokens.Gateway); ok {
		return token, nil
	}

	identity, ok := c.store.Get(tokens.Identity)
	if !ok {
		return "", apperrors.ErrNoIdentityToken
	}

	// The shared exchange must not die with whichever caller started it.
	exchangeCtx := context.WithoutCancel(ctx)

	ch := c.exchange.DoChan(identity, func() (any, error) {
		c.exchanging.Add(1)
		defer c.exchanging.Add(-1)

		return c.exchangeGatewayToken(exchangeCtx, identity)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

func (c *Client) exchangeGatewayToken(ctx context.Context, identity string) (string, error) {
	raw, err := c.send(ctx, Request{Method: http.MethodGet, Path: gatewayTokenPath, Auth: AuthIdentity}, identity)
	if err != nil {
		return "", err
	}

	token := gjson.GetBytes(raw, "kong_token").String()
	if token == "" {
		return "", fmt.Errorf("%w: exchange response has no kong_token", apperrors.ErrAPIResponse)
	}

	// Skip storing when the session changed while the exchange was in
	// flight; the token belongs to an identity that is gone.
	if current, ok := c.store.Get(tokens.Identity); !ok || current != identity {
		c.logger.Debug("session changed during exchange, not caching gateway token")
		return token, nil
	}

	if err := c.store.Set(tokens.Gateway, token); err != nil {
		c.logger.Warn("failed to save gateway token", slog.String("error", err.Error()))
	}

	c.logger.Debug("gateway token acquired")

	return token, nil
}

// Me fetches the profile of the logged-in user and refreshes the stored copy.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	raw, err := c.Do(ctx, Request{Method: http.MethodGet, Path: mePath, Auth: AuthIdentity})
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding profile: %v", apperrors.ErrAPIResponse, err)
	}

	if err := c.store.SetProfile(raw); err != nil {
		c.logger.Warn("failed to save profile", slog.String("error", err.Error()))
	}

	return &p, nil
}

// Profile returns the stored profile of the logged-in user.
func (c *Client) Profile() (*Profile, error) {
	raw, ok := c.store.Profile()
	if !ok {
		return nil, apperrors.ErrNotLoggedIn
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding stored profile: %w", err)
	}

	return &p, nil
}

// RequireRole checks the stored profile's role against roles. Admins pass
// every check.
func (c *Client) RequireRole(roles ...string) error {
	if _, ok := c.store.Get(tokens.Identity); !ok {
		return apperrors.ErrNotLoggedIn
	}

	p, err := c.Profile()
	if err != nil {
		return err
	}

	if p.Role == RoleAdmin || slices.Contains(roles, p.Role) {
		return nil
	}

	return fmt.Errorf("%w: %q", apperrors.ErrForbidden, p.Role)
}

// SessionState reports where the session is in its lifecycle.
func (c *Client) SessionState() SessionState {
	if _, ok := c.store.Get(tokens.Identity); !ok {
		return LoggedOut
	}

	if _, ok := c.store.Get(tokens.Gateway); ok {
		return FullyAuthenticated
	}

	if c.exchanging.Load() > 0 {
		return Exchanging
	}

	return IdentityOnly
}
