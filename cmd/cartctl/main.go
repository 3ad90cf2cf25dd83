// Command cartctl inspects the product catalogue and shoppers' persisted carts from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Arpitray/commerce/internal/di"
	"github.com/Arpitray/commerce/internal/platform/config"
	"github.com/Arpitray/commerce/internal/platform/observability"
	"github.com/Arpitray/commerce/internal/platform/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cliApp{out: os.Stdout, open: openContainer}
	defer app.close()

	if err := newRootCommand(app).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openContainer loads configuration the same way the API does and builds the runtime container.
func openContainer(ctx context.Context) (*di.Container, error) {
	logger := observability.FromContext(ctx)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(".secrets.local"),
	)
	if err != nil {
		return nil, fmt.Errorf("init secret fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		return nil, err
	}
	return di.NewContainer(ctx, cfg, di.WithLogger(logger))
}
