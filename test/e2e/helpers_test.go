package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/dashgate/internal/gateway"
	"github.com/alexjbarnes/dashgate/internal/mcpserver"
	"github.com/alexjbarnes/dashgate/internal/state"
	"github.com/alexjbarnes/dashgate/internal/tokens"
	"github.com/golang-jwt/jwt/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	testUsername   = "rasoa"
	testPassword   = "testpass"
	testPassphrase = "correct horse battery staple"
	signingSecret  = "e2e-signing-secret"
)

// backend imitates the auth service and the gateway in front of the
// domain services. The gateway only accepts tokens the exchange issued.
type backend struct {
	srv *httptest.Server

	mu       sync.Mutex
	identity map[string]bool
	gateway  map[string]bool
	logouts  int

	exchanges atomic.Int32
	seq       atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{
		identity: make(map[string]bool),
		gateway:  make(map[string]bool),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)

	return b
}

func (b *backend) baseURL() string {
	return b.srv.URL + "/api"
}

func (b *backend) sign(kind string) string {
	n := b.seq.Add(1)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":      kind,
		"sub":      fmt.Sprintf("%s-%d", kind, n),
		"username": testUsername,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(signingSecret))
	if err != nil {
		panic(err)
	}

	return tok
}

func (b *backend) revokeGatewayTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gateway = make(map[string]bool)
}

func (b *backend) valid(set map[string]bool, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return set[token]
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	body, _ := io.ReadAll(r.Body)

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/api/auth/login/":
		var req gateway.LoginRequest
		_ = json.Unmarshal(body, &req)

		if req.Username != testUsername || req.Password != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Invalid credentials"}`)
			return
		}

		access := b.sign("auth-service")

		b.mu.Lock()
		b.identity[access] = true
		b.mu.Unlock()

		resp, _ := json.Marshal(map[string]any{
			"access": access,
			"user":   map[string]any{"id": "9", "username": testUsername, "role": gateway.RoleResponsableStock, "is_active": true},
		})
		_, _ = w.Write(resp)
	case "/api/auth/logout/":
		b.mu.Lock()
		delete(b.identity, bearer)
		b.logouts++
		b.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	case "/api/auth/kong-token/":
		if !b.valid(b.identity, bearer) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Given token not valid for any token type"}`)
			return
		}

		b.exchanges.Add(1)
		token := b.sign("kong")

		b.mu.Lock()
		b.gateway[token] = true
		b.mu.Unlock()

		_, _ = fmt.Fprintf(w, `{"kong_token":%q}`, token)
	default:
		if !b.valid(b.gateway, bearer) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"Unauthorized"}`)
			return
		}

		switch {
		case r.URL.Path == "/api/stock/items/" && r.Method == http.MethodGet:
			_, _ = io.WriteString(w, `[{"id":1,"name":"Riz","quantity":40},{"id":2,"name":"Huile","quantity":12}]`)
		case r.URL.Path == "/api/stock/items/" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Not found."}`)
		}
	}
}

// statePath returns a fresh bolt database path.
func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.db")
}

// openClient opens the sealed state at path and returns a client bound
// to it. The database is closed when the test ends unless closed earlier.
func openClient(t *testing.T, b *backend, path string) (*gateway.Client, *state.State) {
	t.Helper()

	st, err := state.LoadAt(path, state.WithPassphrase(testPassphrase))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return gateway.NewClient(b.baseURL(), tokens.NewStore(st), b.srv.Client(), nil), st
}

// mcpSession serves the dashboard tools for c over in-memory transports.
func mcpSession(t *testing.T, c *gateway.Client) *mcp.ClientSession {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "dashgate-e2e", Version: "test"}, nil)
	mcpserver.RegisterTools(server, c)

	t1, t2 := mcp.NewInMemoryTransports()
	_, err := server.Connect(t.Context(), t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	session, err := client.Connect(t.Context(), t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

// extractTextContent returns the first text content of a tool result.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")

	return tc.Text
}
