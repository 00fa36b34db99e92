// Command taskflow-tui is the terminal task client. It runs the embedded
// gateway in-process unless SUPABASE_URL and SUPABASE_ANON_KEY are set.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/taskflow/app"
	"github.com/example/taskflow/client"
	"github.com/example/taskflow/modules/tui"
	"github.com/example/taskflow/prefs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskflow-tui: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	if !tui.IsTTY(os.Stdout) {
		return tui.ErrNotTTY
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg := app.ConfigFromEnv()
	cfg.Quiet = true
	stack, err := app.Start(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		_ = stack.Stop(shutdownCtx)
	}()

	path, err := prefs.DefaultPath()
	if err != nil {
		return err
	}
	logger := stack.Logger.WithModule("tui")
	session := client.NewContext(prefs.NewFileStore(path), logger)

	gw, err := stack.NewGateway()
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	ctrl := client.NewController(gw, session, logger, client.WithConfigured(stack.Configured()))
	defer ctrl.Close()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	if err := tui.Run(ctx, ctrl); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
