package gateway

import (
	"encoding/json"
	"net/url"
)

// CredentialKind selects which bearer token a request carries.
type CredentialKind int

const (
	// AuthNone sends no Authorization header.
	AuthNone CredentialKind = iota
	// AuthIdentity sends the identity token issued at login.
	AuthIdentity
	// AuthGateway sends the gateway token, exchanging for one first if needed.
	AuthGateway
)

func (k CredentialKind) String() string {
	switch k {
	case AuthNone:
		return "none"
	case AuthIdentity:
		return "identity"
	case AuthGateway:
		return "gateway"
	}

	return "unknown"
}

// Request describes one API call. Path is relative to the client base URL
// and must start with "/". Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Auth   CredentialKind
}

// LoginRequest is the payload for POST /auth/login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login/.
type LoginResponse struct {
	Access    string          `json:"access"`
	Refresh   string          `json:"refresh,omitempty"`
	KongToken string          `json:"kong_token,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
}

// RegisterRequest is the payload for POST /auth/register/. An empty
// PasswordConfirm is sent as Password.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Role            string `json:"role"`
	IsActive        bool   `json:"is_active"`
}

// Profile is the authenticated principal as returned by the auth service.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Roles known to the auth service.
const (
	RoleAdmin              = "admin"
	RoleResponsableRH      = "responsable_rh"
	RoleResponsableStock   = "responsable_stock"
	RoleResponsableFinance = "responsable_finance"
	RoleMagasinier         = "magasinier"
	RoleCoordinateur       = "coordinateur"
)
