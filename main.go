package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/coach-go/internal/confirm"
)

func main() {
	ctx := shutdownContext(context.Background(), slog.Default())

	err := newRootCmd().ExecuteContext(ctx)
	os.Exit(exitCode(err))
}

// exitCode reports err and maps it to the process exit status. Declining a
// proposal and interrupting with Ctrl-C are choices, not failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case confirm.IsCancelled(err):
		fmt.Fprintln(os.Stderr, "Cancelled; nothing was changed.")
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted.")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}
