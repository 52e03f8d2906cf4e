/*
reset-balances-auto - Run the configured balance reset once

USAGE:
  reset-balances-auto [--config path] [reset|reset-privileged]

  reset             every user to RESET_BALANCE_AMOUNT, then the
                    RESET_AMOUNT_PRIVILEGED_USERS to RESET_AMOUNT_PRIVILEGED
  reset-privileged  only the privileged users

  With no command, reset is run.

EXIT CODES:
  0  Every reset succeeded
  1  Configuration error, unknown command, any user failed, or uncaught error
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/factory"
)

func main() {
	factory.Main(func(ctx context.Context) int {
		return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	})
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...factory.Option) int {
	flags := pflag.NewFlagSet("reset-balances-auto", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	command := flags.Arg(0)
	if command == "" {
		command = "reset"
	}
	if command != "reset" && command != "reset-privileged" {
		fmt.Fprintf(stderr, "unknown command %q (want reset or reset-privileged)\n", command)
		return 1
	}

	engine, err := factory.Load(ctx, *configPath, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Close()
	cfg := engine.Config.Reset

	if command == "reset-privileged" {
		if len(cfg.PrivilegedUsers) == 0 || cfg.PrivilegedRaw == "" {
			fmt.Fprintln(stderr, "Error: RESET_AMOUNT_PRIVILEGED_USERS and RESET_AMOUNT_PRIVILEGED must be set")
			return 1
		}
		report, _ := engine.Resetter.ResetPrivileged(ctx, cfg.PrivilegedUsers, cfg.PrivilegedAmount)
		summarize(stdout, stderr, report)
		return report.ExitCode()
	}

	if cfg.Amount == "" {
		fmt.Fprintln(stderr, "Error: RESET_BALANCE_AMOUNT must be set")
		return 1
	}
	if len(cfg.PrivilegedUsers) > 0 && cfg.PrivilegedRaw == "" {
		fmt.Fprintln(stderr, "Error: RESET_AMOUNT_PRIVILEGED must be set when RESET_AMOUNT_PRIVILEGED_USERS is")
		return 1
	}
	bulk, privileged, err := engine.Scheduler().RunNow(ctx)
	if bulk != nil {
		summarize(stdout, stderr, bulk)
	}
	if privileged != nil {
		summarize(stdout, stderr, privileged)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !bulk.OK() || (privileged != nil && !privileged.OK()) {
		return 1
	}
	return 0
}

func summarize(stdout, stderr io.Writer, r *credits.Report) {
	fmt.Fprintf(stdout, "%s reset to %s: %d succeeded, %d failed (run %s)\n",
		r.Cohort, r.Target, r.Succeeded(), r.Failed(), r.RunID)
	for _, o := range r.Failures() {
		fmt.Fprintf(stderr, "  %s: %v\n", o.Identifier, o.Err)
	}
}
