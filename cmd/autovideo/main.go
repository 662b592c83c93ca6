package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autovideo/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 2 for usage problems reported by the daemon, 3 when the daemon
// is unreachable, and 1 otherwise.
func exitCode(err error) int {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Kind == "validation":
		return 2
	case client.IsUnavailable(err):
		return 3
	default:
		return 1
	}
}
