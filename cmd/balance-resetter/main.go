/*
balance-resetter - Long-running scheduled balance reset

PURPOSE:
  Runs the full reset (every user, then the privileged users) on the cron
  schedule in RESET_BALANCE_TIME while RESET_BALANCE=true. When disabled
  it logs "Balance reset is disabled." and exits 0.

SHUTDOWN:
  On SIGINT/SIGTERM the schedule stops and a reset in progress is allowed
  to finish before the process exits.

SEE ALSO:
  - api/scheduler.go: ResetScheduler
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/warp/credit-engine/factory"
)

func main() {
	factory.Main(func(ctx context.Context) int {
		return run(ctx, os.Args[1:], os.Stderr)
	})
}

func run(ctx context.Context, args []string, stderr io.Writer, opts ...factory.Option) int {
	flags := pflag.NewFlagSet("balance-resetter", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file")
	runNow := flags.Bool("now", false, "run one reset immediately before waiting for the schedule")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	engine, err := factory.Load(ctx, *configPath, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Close()

	scheduler := engine.Scheduler()
	if !scheduler.Enabled() {
		engine.Logger.Info("Balance reset is disabled.")
		return 0
	}

	if *runNow {
		if _, _, err := scheduler.RunNow(ctx); err != nil {
			engine.Logger.Error("initial reset failed", "error", err)
		}
	}

	if err := scheduler.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	engine.Logger.Info("Cron job scheduled", "schedule", engine.Config.Reset.Schedule, "next_run", scheduler.NextRun())

	<-ctx.Done()
	engine.Logger.Info("shutting down balance resetter")
	scheduler.Stop()
	return 0
}
