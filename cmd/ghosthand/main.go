// File: cmd/ghosthand/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/ghosthand/cmd"
	"github.com/xkilldash9x/ghosthand/internal/observability"
)

const panicLogFile = "ghosthand-panic.log"

// Function variables so tests can observe the panic path without exiting.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the command context; the pipeline drains and exits cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if code := run(ctx); code != cmd.ExitOK {
		osExit(code)
	}
}

func run(ctx context.Context) int {
	return cmd.ExitCode(execute(ctx))
}

// handlePanic records a crash to panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(cmd.ExitError)
		return
	}
	fmt.Fprintf(os.Stderr, "ghosthand crashed; details logged to %s\n", panicLogFile)
	osExit(cmd.ExitError)
}
