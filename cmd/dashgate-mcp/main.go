package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/dashgate/internal/config"
	"github.com/alexjbarnes/dashgate/internal/gateway"
	"github.com/alexjbarnes/dashgate/internal/logging"
	"github.com/alexjbarnes/dashgate/internal/mcpserver"
	"github.com/alexjbarnes/dashgate/internal/server"
	"github.com/alexjbarnes/dashgate/internal/state"
	"github.com/alexjbarnes/dashgate/internal/tokens"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the MCP stream; the logger writes to stderr.
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("dashgate-mcp starting",
		slog.String("version", Version),
		slog.String("api_url", cfg.APIURL),
		slog.String("state_path", cfg.StatePath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []state.Option
	if cfg.StatePassphrase != "" {
		opts = append(opts, state.WithPassphrase(cfg.StatePassphrase))
	}

	appState, err := state.LoadAt(cfg.StatePath, opts...)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	client := gateway.NewClient(
		cfg.APIURL,
		tokens.NewStore(appState),
		gateway.NewHTTPClient(cfg.HTTPTimeout),
		logger,
	)

	if client.SessionState() == gateway.LoggedOut {
		logger.Warn("no stored session, run \"dashgate login\" first; tools will fail until then")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "dashgate-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, client)

	if cfg.MCPListenAddr != "" {
		return serveHTTP(ctx, cfg, client, mcpServer, logger)
	}

	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	logger.Info("dashgate-mcp stopped")

	return nil
}

// serveHTTP serves the MCP server over streamable HTTP until ctx is done.
func serveHTTP(ctx context.Context, cfg *config.Config, client *gateway.Client, mcpServer *mcp.Server, logger *slog.Logger) error {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	httpServer := &http.Server{
		Addr: cfg.MCPListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Client:     client,
			MCPHandler: mcpHandler,
			APIKey:     cfg.MCPAPIKey,
			Logger:     logger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("MCP server listening", slog.String("listen", cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down MCP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}
