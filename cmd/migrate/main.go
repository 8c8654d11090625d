// Command migrate applies the GearGuard schema migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gearguard/migrator/internal/telemetry"
	"github.com/gearguard/migrator/internal/ui"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	telemetry.Shutdown(flushCtx)
	cancel()

	if err == nil {
		return
	}
	if !errors.Is(err, errReported) {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail(ui.IconFail), err)
	}
	stop()
	os.Exit(1)
}
