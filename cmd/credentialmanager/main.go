package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, out io.Writer) error {
	cfg := NewConfig()

	if err := cfg.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("can't load .env: %w", err)
	}
	if err := cfg.LoadEnv(getenv); err != nil {
		return fmt.Errorf("can't load environment: %w", err)
	}

	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	return root.ExecuteContext(ctx)
}

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "credentialmanager:", err)
		stop()
		os.Exit(1)
	}
	stop()
}
