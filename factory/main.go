package factory

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

// Main runs fn with a context that is cancelled on SIGINT or SIGTERM and
// exits the process with fn's return code.
func Main(fn func(ctx context.Context) int) {
	os.Exit(run(os.Stderr, fn))
}

// run logs a panic escaping fn and returns exit code 1.
func run(stderr io.Writer, fn func(ctx context.Context) int) (code int) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(stderr, "There was an uncaught error: %v\n%s", p, debug.Stack())
			code = 1
		}
	}()
	return fn(ctx)
}
