package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/dashgate/internal/tokens"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "rakoto"
	testPassword = "secret"
	testSecret   = "test-signing-secret"
)

// signToken returns an HS256 JWT like the ones the auth service issues.
func signToken(t *testing.T, sub, username string, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":      "auth-service",
		"sub":      sub,
		"username": username,
		"exp":      exp.Unix(),
	})

	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return s
}

// recordedRequest is what the fake API saw for one call.
type recordedRequest struct {
	Method        string
	Path          string
	RawQuery      string
	Authorization string
	ContentType   string
	Accept        string
	Body          string
}

// fakeAPI imitates the auth service and the gateway-fronted domain
// services under /api.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	identity string

	mu       sync.Mutex
	requests []recordedRequest
	issued   map[string]bool

	exchanges atomic.Int32

	// Knobs set by individual tests before calls are made.
	loginKong      bool
	exchangeStatus int
	exchangeBody   string
	logoutStatus   int
	exchangeHook   func()
	domainStatus   int
	domainBody     string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	f := &fakeAPI{
		t:        t,
		identity: signToken(t, "42", testUsername, time.Now().Add(time.Hour)),
		issued:   make(map[string]bool),
	}

	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)

	return f
}

// newClient returns a client against the fake API with an in-memory store.
func (f *fakeAPI) newClient() *Client {
	return NewClient(f.srv.URL+"/api", tokens.NewStore(tokens.NewMemoryBackend()), f.srv.Client(), nil)
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(f.t, f.requests)

	return f.requests[len(f.requests)-1]
}

func (f *fakeAPI) countPath(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, r := range f.requests {
		if r.Path == path {
			n++
		}
	}

	return n
}

func (f *fakeAPI) wasIssued(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.issued[token]
}

func (f *fakeAPI) issue() string {
	n := f.exchanges.Add(1)
	token := signToken(f.t, fmt.Sprintf("kong-%d", n), testUsername, time.Now().Add(time.Hour))

	f.mu.Lock()
	f.issued[token] = true
	f.mu.Unlock()

	return token
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Accept:        r.Header.Get("Accept"),
		Body:          string(body),
	})
	f.mu.Unlock()

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch r.URL.Path {
	case "/api/auth/login/":
		var req LoginRequest
		_ = json.Unmarshal(body, &req)

		if req.Username != testUsername || req.Password != testPassword {
			writeJSON(w, http.StatusUnauthorized, `{"detail":"Invalid credentials"}`)
			return
		}

		resp := map[string]any{
			"access":  f.identity,
			"refresh": "refresh-token",
			"user": map[string]any{
				"id": "42", "username": testUsername, "full_name": "Rakoto Jean",
				"role": RoleResponsableRH, "is_active": true,
			},
		}
		if f.loginKong {
			resp["kong_token"] = f.issue()
		}

		data, _ := json.Marshal(resp)
		writeJSON(w, http.StatusOK, string(data))
	case "/api/auth/register/":
		writeJSON(w, http.StatusCreated, string(body))
	case "/api/auth/logout/":
		if f.logoutStatus != 0 {
			w.WriteHeader(f.logoutStatus)
			io.WriteString(w, "<html>upstream error</html>")

			return
		}

		w.WriteHeader(http.StatusNoContent)
	case "/api/auth/kong-token/":
		if f.exchangeHook != nil {
			f.exchangeHook()
		}

		if bearer != f.identity {
			writeJSON(w, http.StatusUnauthorized, `{"detail":"Given token not valid for any token type"}`)
			return
		}

		if f.exchangeStatus != 0 {
			writeJSON(w, f.exchangeStatus, f.exchangeBody)
			return
		}

		if f.exchangeBody != "" {
			writeJSON(w, http.StatusOK, f.exchangeBody)
			return
		}

		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"kong_token":%q}`, f.issue()))
	case "/api/auth/me/":
		if bearer != f.identity {
			writeJSON(w, http.StatusUnauthorized, `{"detail":"Authentication credentials were not provided."}`)
			return
		}

		writeJSON(w, http.StatusOK, `{"id":"42","username":"rakoto","full_name":"Rakoto Jean","role":"responsable_rh","is_active":true}`)
	default:
		if !f.wasIssued(bearer) {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Unauthorized"}`)
			return
		}

		if f.domainStatus != 0 {
			w.WriteHeader(f.domainStatus)
			io.WriteString(w, f.domainBody)

			return
		}

		echo, _ := json.Marshal(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
			"body":   string(body),
		})
		writeJSON(w, http.StatusOK, string(echo))
	}
}
