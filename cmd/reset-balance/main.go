/*
reset-balance - Reset the balance of a single user account

USAGE:
  reset-balance [--config path] [email] [balance]

  Missing arguments are asked for on stdin. The user may be given by email
  or by user ID.

EXIT CODES:
  0  Balance reset
  1  Invalid email or balance, unknown user, storage failure or uncaught error

SEE ALSO:
  - credits/resetter.go: ResetOne
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
		return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	})
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, opts ...factory.Option) int {
	flags := pflag.NewFlagSet("reset-balance", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	fmt.Fprintln(stdout, "--------------------------")
	fmt.Fprintln(stdout, "Reset balance of a specific user account!")
	fmt.Fprintln(stdout, "--------------------------")

	prompter := credits.NewPrompter(stdin, stdout)
	user := flags.Arg(0)
	if user == "" {
		answer, err := prompter.Ask("Please enter the email of the user:")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := credits.ValidateEmail(answer); err != nil {
			fmt.Fprintln(stderr, "Error: Invalid email address!")
			return 1
		}
		user = answer
	}

	rawBalance := flags.Arg(1)
	if rawBalance == "" {
		answer, err := prompter.Ask("Please enter the new balance:")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		rawBalance = answer
	}
	target, err := credits.ParseAmount(rawBalance)
	if err != nil {
		fmt.Fprintln(stderr, "Error: Invalid balance amount!")
		return 1
	}

	engine, err := factory.Load(ctx, *configPath, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Close()

	report, err := engine.Resetter.ResetOne(ctx, user, target)
	if err != nil {
		if credits.IsNotFound(err) {
			fmt.Fprintln(stderr, "Error: No user with that email was found!")
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	out := report.Results[0]
	fmt.Fprintf(stdout, "Balance for %s successfully reset to %s (was %s)\n", user, target, out.Previous)
	return 0
}
