package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/memxfer/internal/observability"
	"github.com/rs/zerolog"
)

var errUsage = errors.New("usage: memxferctl <plan|demo> [flags]")

func main() {
	logger := observability.InitLogger("memxferctl")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch(ctx, os.Args[1:], os.Stdout, logger)
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "memxferctl: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, args []string, out io.Writer, logger zerolog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "plan":
		opts, err := parsePlanArgs(args[1:])
		if err != nil {
			return err
		}
		return runPlan(ctx, opts, out, logger)
	case "demo":
		opts, err := parseDemoArgs(args[1:])
		if err != nil {
			return err
		}
		return runDemo(ctx, opts, out, logger)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func validateSize(size uint64) error {
	if size == 0 {
		return fmt.Errorf("--size must be greater than zero")
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("--port must be in 1-65535, got %d", port)
	}
	return nil
}
