package gateway

import (
	"fmt"
	"time"

	"github.com/alexjbarnes/dashgate/internal/tokens"
	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo describes a stored token for display. The claims are read
// without verifying the signature; nothing in the protocol relies on them.
type TokenInfo struct {
	Kind      tokens.Kind `json:"kind"`
	Present   bool        `json:"present"`
	Subject   string      `json:"subject,omitempty"`
	Username  string      `json:"username,omitempty"`
	Issuer    string      `json:"issuer,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Expired   bool        `json:"expired"`
}

// TokenInfo decodes the stored token of the given kind. Tokens that are
// not JWTs report only their presence.
func (c *Client) TokenInfo(kind tokens.Kind) TokenInfo {
	info := TokenInfo{Kind: kind}

	raw, ok := c.store.Get(kind)
	if !ok {
		return info
	}

	info.Present = true

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return info
	}

	info.Subject, _ = claims.GetSubject()
	info.Issuer, _ = claims.GetIssuer()

	// SimpleJWT access tokens carry user_id instead of sub.
	if info.Subject == "" {
		if id, ok := claims["user_id"]; ok {
			info.Subject = fmt.Sprint(id)
		}
	}

	if u, ok := claims["username"].(string); ok {
		info.Username = u
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		info.ExpiresAt = &t
		info.Expired = c.now().After(t)
	}

	return info
}
