package errors

import "errors"

// Session errors.
var (
	ErrNoIdentityToken = errors.New("no identity token: cannot exchange for a gateway token")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrForbidden       = errors.New("role not allowed")
)

// Server/transport errors.
var (
	ErrNetwork     = errors.New("network error")
	ErrAPIResponse = errors.New("unexpected API response")
)

// Catalogue errors.
var ErrUnknownResource = errors.New("unknown resource")
