package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// BuildAPIURL is the API base URL baked in at build time, e.g.
//
//	go build -ldflags "-X github.com/alexjbarnes/dashgate/internal/config.BuildAPIURL=https://api.example.org/api"
//
// DASHGATE_API_URL overrides it at runtime.
var BuildAPIURL = ""

// FallbackAPIURL is used when neither the runtime nor the build-time URL is set.
const FallbackAPIURL = "http://localhost:9000/api"

// minMCPAPIKeyLen is the shortest key accepted for the HTTP MCP transport.
const minMCPAPIKeyLen = 16

// Output formats accepted by DASHGATE_OUTPUT.
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Config holds all environment-based configuration for dashgate.
type Config struct {
	// API gateway base URL. Empty means "use the build-time default".
	APIURL string `env:"DASHGATE_API_URL"`

	// Path of the bolt database holding the session. Defaults to
	// ~/.dashgate/state.db.
	StatePath string `env:"DASHGATE_STATE_PATH"`

	// Optional passphrase. When set, stored tokens are sealed at rest.
	StatePassphrase string `env:"DASHGATE_STATE_PASSPHRASE"`

	// Credentials for non-interactive login.
	Username string `env:"DASHGATE_USERNAME"`
	Password string `env:"DASHGATE_PASSWORD"`

	HTTPTimeout time.Duration `env:"DASHGATE_HTTP_TIMEOUT" envDefault:"30s"`
	Output      string        `env:"DASHGATE_OUTPUT" envDefault:"json"`

	// HTTP transport for the MCP bridge. Empty MCPListenAddr keeps the
	// bridge on stdio.
	MCPListenAddr string `env:"DASHGATE_MCP_LISTEN_ADDR"`
	MCPAPIKey     string `env:"DASHGATE_MCP_API_KEY"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIURL = ResolveAPIURL(cfg.APIURL)
	cfg.Output = strings.ToLower(strings.TrimSpace(cfg.Output))

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

// ResolveAPIURL picks the API base URL: the runtime value when set, then
// BuildAPIURL, then FallbackAPIURL. Trailing slashes are dropped so paths
// like "/auth/login/" can be appended directly.
func ResolveAPIURL(runtimeURL string) string {
	u := strings.TrimSpace(runtimeURL)
	if u == "" {
		u = strings.TrimSpace(BuildAPIURL)
	}

	if u == "" {
		u = FallbackAPIURL
	}

	return strings.TrimRight(u, "/")
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("DASHGATE_API_URL is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("DASHGATE_API_URL must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("DASHGATE_API_URL has no host")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("DASHGATE_HTTP_TIMEOUT must be positive")
	}

	if c.Output != OutputJSON && c.Output != OutputYAML {
		return fmt.Errorf("DASHGATE_OUTPUT must be %q or %q, got %q", OutputJSON, OutputYAML, c.Output)
	}

	if c.MCPListenAddr != "" && len(c.MCPAPIKey) < minMCPAPIKeyLen {
		return fmt.Errorf("DASHGATE_MCP_API_KEY must be at least %d characters when DASHGATE_MCP_LISTEN_ADDR is set", minMCPAPIKeyLen)
	}

	return nil
}

// DefaultStatePath returns ~/.dashgate/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".dashgate", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
