/*
reset-balances - Reset and set the balance of every user account

USAGE:
  CHECK_BALANCE=true reset-balances [-y|--yes] [--config path] <balance>

  Without --yes the operator is asked to type "yes" before anything is
  written. -y may appear before or after the balance. The balance is the
  first argument that is an unsigned decimal number. Other arguments are
  ignored, as are unknown flags together with a value following them.

EXIT CODES:
  0  All users reset, or the confirmation was declined
  1  CHECK_BALANCE not set, missing/invalid balance, any user failed, or uncaught error

SEE ALSO:
  - credits/resetter.go: ResetAll
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/pflag"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/factory"
)

func main() {
	factory.Main(func(ctx context.Context) int {
		return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	})
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, opts ...factory.Option) int {
	flags := pflag.NewFlagSet("reset-balances", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	yes := flags.BoolP("yes", "y", false, "skip the confirmation prompt")
	configPath := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	fmt.Fprintln(stdout, "--------------------------")
	fmt.Fprintln(stdout, "Reset and set balance of user accounts!")
	fmt.Fprintln(stdout, "--------------------------")

	prompter := credits.NewPrompter(stdin, stdout)
	opts = append([]factory.Option{factory.WithConfirmer(prompter)}, opts...)

	engine, err := factory.Load(ctx, *configPath, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Close()

	if !engine.Config.Reset.CheckBalance {
		fmt.Fprintln(stderr, "Error: CHECK_BALANCE environment variable is not set! Configure it to use it: `CHECK_BALANCE=true`")
		return 1
	}

	rawBalance := balanceArg(flags.Args())
	if rawBalance == "" {
		fmt.Fprintln(stderr, "Error: No balance amount provided!")
		return 1
	}
	target, err := credits.ParseAmount(rawBalance)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	report, err := engine.Resetter.ResetAll(ctx, target, *yes)
	if credits.IsCancelled(err) {
		fmt.Fprintln(stdout, "Operation cancelled.")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for _, o := range report.Results {
		if o.Status == credits.OutcomeSucceeded {
			fmt.Fprintf(stdout, "Processing user: %s ... reset from %s\n", o.Identifier, o.Previous)
		}
	}
	for _, o := range report.Failures() {
		fmt.Fprintf(stderr, "Failed to reset %s: %v\n", o.Identifier, o.Err)
	}
	fmt.Fprintf(stdout, "Reset %d users to %s (%d failed)\n", report.Succeeded(), target, report.Failed())
	return report.ExitCode()
}

var balancePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// balanceArg returns the first positional argument that looks like a balance.
func balanceArg(args []string) string {
	for _, arg := range args {
		if balancePattern.MatchString(arg) {
			return arg
		}
	}
	return ""
}
