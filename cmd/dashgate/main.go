package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/dashgate/internal/config"
	"github.com/alexjbarnes/dashgate/internal/gateway"
	"github.com/alexjbarnes/dashgate/internal/logging"
	"github.com/alexjbarnes/dashgate/internal/state"
	"github.com/alexjbarnes/dashgate/internal/tokens"
)

var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || isHelp(args[0]) {
		usage(os.Stdout)
		return nil
	}

	if args[0] == "version" {
		fmt.Println(Version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("dashgate starting",
		slog.String("version", Version),
		slog.String("api_url", cfg.APIURL),
		slog.String("command", args[0]),
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

	a := &app{
		client: client,
		cfg:    cfg,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	return a.execute(ctx, args)
}

func isHelp(arg string) bool {
	switch arg {
	case "help", "-h", "-help", "--help":
		return true
	}
	return false
}
